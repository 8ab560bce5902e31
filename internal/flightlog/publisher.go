package flightlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dronecore/dronenav/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher mirrors telemetry snapshots to a ground-station MQTT broker.
// It is independent of the Recorder and of the command socket's
// liveness: a broker that is unreachable never blocks a telemetry
// request, it just fails the publish silently after logging.
type Publisher struct {
	topic string

	mu     sync.Mutex
	client mqtt.Client
}

// NewPublisher connects to broker (an mqtt:// or tcp:// URL) with a
// client id derived from the current time. An empty broker disables
// publishing entirely; Publish then becomes a no-op.
func NewPublisher(broker, topic string) (*Publisher, error) {
	if broker == "" {
		return &Publisher{topic: topic}, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("dronenav_%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("flightlog: mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("flightlog: mqtt connect failed: %w", err)
	}

	return &Publisher{topic: topic, client: client}, nil
}

// Publish best-effort publishes payload as JSON at QoS 0. Failures are
// logged, never returned — a lost ground link must never affect onboard
// control.
func (p *Publisher) Publish(payload interface{}) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.WithComponent("flightlog").Warn("failed to marshal mqtt payload", zap.Error(err))
		return
	}

	token := client.Publish(p.topic, 0, false, raw)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			logger.WithComponent("flightlog").Warn("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			logger.WithComponent("flightlog").Warn("mqtt publish failed", zap.Error(err))
		}
	}()
}

// Close disconnects the MQTT client, if connected.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
