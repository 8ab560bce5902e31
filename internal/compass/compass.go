// Package compass drives an IST8310 magnetometer over I2C and reports a
// magnetic heading in degrees.
package compass

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronecore/dronenav/internal/hal"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

const (
	i2cAddr  uint16 = 0x0E
	whoAmI   byte   = 0x00
	deviceID byte   = 0x10
	ctrl1    byte   = 0x0A
	xLSB     byte   = 0x03
	yLSB     byte   = 0x05

	measureDelay = 10 * time.Millisecond
	pollInterval = 100 * time.Millisecond
)

// Service owns the I2C descriptor for its lifetime; a single background
// goroutine polls the sensor and a short-held mutex guards the latest
// reading.
type Service struct {
	bus         hal.I2CBus
	mountOffset float64

	mu      sync.Mutex
	heading float64
	x, y    int16

	stop int32
	done chan struct{}
}

// Open identifies the sensor and returns a Service ready to Run. mountOffset
// is the physical mounting offset in degrees, added after the atan2 term.
func Open(provider hal.I2CProvider, busName string, mountOffset float64) (*Service, error) {
	bus, err := provider.OpenBus(busName)
	if err != nil {
		return nil, fmt.Errorf("compass: failed to open I2C bus %s: %w", busName, err)
	}

	id := make([]byte, 1)
	if err := bus.WriteRead(i2cAddr, []byte{whoAmI}, id); err != nil {
		return nil, fmt.Errorf("compass: WHO_AM_I read failed: %w", err)
	}
	if id[0] != deviceID {
		return nil, fmt.Errorf("compass: unexpected device id 0x%02x, want 0x%02x", id[0], deviceID)
	}

	return &Service{
		bus:         bus,
		mountOffset: mountOffset,
		done:        make(chan struct{}),
	}, nil
}

// Run polls the sensor at a fixed cadence until Stop is called. Intended to
// be launched in its own goroutine.
func (s *Service) Run() {
	log := logger.WithComponent("compass")
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for atomic.LoadInt32(&s.stop) == 0 {
		<-ticker.C
		if atomic.LoadInt32(&s.stop) != 0 {
			return
		}

		if err := s.bus.Write(i2cAddr, []byte{ctrl1, 0x01}); err != nil {
			log.Warn("failed to trigger measurement", zap.Error(err))
			continue
		}
		time.Sleep(measureDelay)

		x, err := s.read2Bytes(xLSB)
		if err != nil {
			log.Warn("failed to read x axis", zap.Error(err))
			continue
		}
		y, err := s.read2Bytes(yLSB)
		if err != nil {
			log.Warn("failed to read y axis", zap.Error(err))
			continue
		}

		heading := computeHeading(x, y, s.mountOffset)

		s.mu.Lock()
		s.x, s.y = x, y
		s.heading = heading
		s.mu.Unlock()
	}
}

func (s *Service) read2Bytes(reg byte) (int16, error) {
	buf := make([]byte, 2)
	if err := s.bus.WriteRead(i2cAddr, []byte{reg}, buf); err != nil {
		return 0, err
	}
	return int16(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

// computeHeading reproduces the sensor's atan2-based heading formula,
// normalized to [0, 360).
func computeHeading(x, y int16, mountOffset float64) float64 {
	heading := math.Atan2(float64(y), float64(x))*180.0/math.Pi - 90.0 + mountOffset
	for heading < 0 {
		heading += 360.0
	}
	for heading >= 360.0 {
		heading -= 360.0
	}
	return heading
}

// Heading returns the most recently polled heading in degrees [0, 360).
func (s *Service) Heading() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heading
}

// Stop signals Run to exit and closes the I2C descriptor. Waits for Run to
// observe the flag before returning.
func (s *Service) Stop() error {
	atomic.StoreInt32(&s.stop, 1)
	<-s.done
	return s.bus.Close()
}
