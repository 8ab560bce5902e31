// Package endpoint serves the command/telemetry TCP socket described in
// spec.md §4.4/§6: line-free JSON framing, one client at a time, a 10s
// per-read inactivity timeout.
package endpoint

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dronecore/dronenav/internal/gps"
	"github.com/dronecore/dronenav/internal/guidance"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

const (
	listenBacklog  = 3
	readBufferSize = 1024
	readTimeout    = 10 * time.Second
)

// gpsSource is the subset of gps.Service the telemetry command needs.
type gpsSource interface {
	Update()
	IsDataReliable() bool
	Fix() gps.Fix
}

// headingSource is the subset of compass.Service the telemetry command
// needs.
type headingSource interface {
	Heading() float64
}

// Controller is the subset of guidance.Controller the endpoint drives.
type Controller interface {
	Abort()
	SetTarget(guidance.Target) string
	JSONState() ([]byte, error)
}

// Server is the command/telemetry TCP endpoint.
type Server struct {
	controller Controller
	gps        gpsSource
	compass    headingSource
	auth       *Authenticator

	listener net.Listener
	stop     int32
}

// New returns a Server ready to Listen.
func New(controller Controller, gpsSvc gpsSource, compassSvc headingSource, auth *Authenticator) *Server {
	return &Server{controller: controller, gps: gpsSvc, compass: compassSvc, auth: auth}
}

// Listen binds the TCP address and starts accepting connections. Blocks
// until Stop is called; run it in its own goroutine. The listen backlog
// (spec.md §4.4 calls for 3) is the Go runtime's default accept queue —
// net.Listen does not expose a portable backlog knob.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("endpoint: failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	log := logger.WithComponent("endpoint")
	log.Info("server running, waiting for connections", zap.String("addr", addr))

	for atomic.LoadInt32(&s.stop) == 0 {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.stop) != 0 {
				return nil
			}
			log.Warn("accept failed", zap.Error(err))
			continue
		}
		log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))
		s.handleConn(conn)
		log.Info("client disconnected")
	}
	return nil
}

// handleConn serves one client at a time: it is called synchronously from
// Listen's accept loop, so no second client can be accepted until this
// returns.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			return
		}
		response := s.handleCommand(buf[:n])
		if _, err := conn.Write(response); err != nil {
			return
		}
	}
}

// Stop signals Listen to exit and closes the listening socket. Any
// in-progress client connection is allowed to finish its current read.
func (s *Server) Stop() error {
	atomic.StoreInt32(&s.stop, 1)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
