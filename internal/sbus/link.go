package sbus

import (
	"fmt"
	"sync/atomic"

	"github.com/dronecore/dronenav/internal/hal"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

// baudRate is the fixed SBUS line rate (100000 8E2, inverted at the UART
// driver level on hardware that needs it; the serial provider is
// responsible for the electrical inversion, this package only frames).
const baudRate = 100000

// PacketFunc is invoked once per fully decoded inbound frame.
type PacketFunc func(Packet)

// Link owns an SBUS serial descriptor for its lifetime: one reader
// goroutine borrows it, a stop flag observed at the loop head tears it
// down. No cross-task descriptor sharing.
type Link struct {
	port hal.SerialPort
	stop int32
}

// Open installs the SBUS link on the given port.
func Open(provider hal.SerialProvider, port string) (*Link, error) {
	p, err := provider.Open(port, baudRate)
	if err != nil {
		return nil, fmt.Errorf("sbus: failed to open link on %s: %w", port, err)
	}
	return &Link{port: p}, nil
}

// Run starts the reader loop, invoking onPacket for every frame decoded
// from the wire. Blocks until Stop is called; run it in its own goroutine.
func (l *Link) Run(onPacket PacketFunc) {
	log := logger.WithComponent("sbus")
	buf := make([]byte, 0, frameLen*4)
	chunk := make([]byte, frameLen)

	for atomic.LoadInt32(&l.stop) == 0 {
		n, err := l.port.Read(chunk)
		if err != nil {
			log.Warn("sbus read error", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		buf = append(buf, chunk[:n]...)

		for {
			start := indexByte(buf, startByte)
			if start < 0 {
				buf = buf[:0]
				break
			}
			if start > 0 {
				buf = buf[start:]
			}
			if len(buf) < frameLen {
				break
			}
			frame := buf[:frameLen]
			packet, decErr := decodeFrame(frame)
			buf = buf[frameLen:]
			if decErr != nil {
				log.Debug("sbus frame rejected", zap.Error(decErr))
				continue
			}
			onPacket(packet)
		}
	}
}

// Write emits exactly one SBUS frame.
func (l *Link) Write(p Packet) error {
	_, err := l.port.Write(encodeFrame(p))
	return err
}

// Stop signals Run to exit and closes the descriptor.
func (l *Link) Stop() error {
	atomic.StoreInt32(&l.stop, 1)
	return l.port.Close()
}

func indexByte(b []byte, target byte) int {
	for i, v := range b {
		if v == target {
			return i
		}
	}
	return -1
}
