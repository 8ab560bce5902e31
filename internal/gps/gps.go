// Package gps reads NMEA-0183 sentences from a serial GPS receiver and
// exposes the latest reliable fix.
package gps

import (
	"bufio"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dronecore/dronenav/internal/hal"
	"github.com/dronecore/dronenav/internal/logger"
	"go.uber.org/zap"
)

const (
	baudRate      = 115200
	queueCapacity = 10
)

// Fix is the most recently parsed, range-checked GPS reading.
type Fix struct {
	Time        string
	Latitude    float64
	Longitude   float64
	AltitudeAGL float64
	Speed       float64 // knots, as received over $GNRMC
	Course      float64 // degrees
	FixQuality  int
	Satellites  int
}

// Service owns the GPS serial descriptor for its lifetime: a reader
// goroutine blocks on serial reads and feeds a bounded, coalescing queue;
// Update drains the queue on the caller's goroutine.
type Service struct {
	port hal.SerialPort

	mu    sync.Mutex
	queue []string
	fix   Fix

	stop int32
	done chan struct{}
}

// Open configures the serial port and returns a Service ready to Run.
func Open(provider hal.SerialProvider, port string) (*Service, error) {
	p, err := provider.Open(port, baudRate)
	if err != nil {
		return nil, fmt.Errorf("gps: failed to open serial port %s: %w", port, err)
	}
	return &Service{port: p, done: make(chan struct{})}, nil
}

// Run blocks reading newline-terminated sentences off the serial port,
// pushing each checksum-valid sentence onto the bounded queue, until Stop
// is called. Intended to be launched in its own goroutine.
func (s *Service) Run() {
	defer close(s.done)

	scanner := bufio.NewScanner(&readerAdapter{port: s.port, stop: &s.stop})
	for scanner.Scan() {
		if atomic.LoadInt32(&s.stop) != 0 {
			return
		}
		sentence := scanner.Text()
		if !validateChecksum(sentence) {
			continue
		}

		s.mu.Lock()
		s.queue = append(s.queue, sentence)
		if len(s.queue) > queueCapacity {
			s.queue = s.queue[1:] // drop oldest under burst
		}
		s.mu.Unlock()
	}
}

// Update drains the inbound queue and applies every sentence in order.
// Malformed or out-of-range sentences are dropped silently.
func (s *Service) Update() {
	log := logger.WithComponent("gps")

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, sentence := range pending {
		switch {
		case contains(sentence, "$GNRMC"):
			s.applyRMC(sentence, log)
		case contains(sentence, "$GNGGA"):
			s.applyGGA(sentence, log)
		}
	}
}

func (s *Service) applyRMC(sentence string, log *zap.Logger) {
	f, ok := parseRMC(sentence)
	if !ok {
		log.Debug("skipping invalid or incomplete $GNRMC sentence")
		return
	}

	lat, latErr := convertToDecimalDegrees(f.lat, f.ns)
	lon, lonErr := convertToDecimalDegrees(f.lon, f.ew)
	if latErr != nil || lonErr != nil {
		log.Debug("skipping unparseable $GNRMC coordinate")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		log.Debug("skipping out-of-range latitude or longitude in $GNRMC")
		return
	}

	speed, _ := strconv.ParseFloat(f.speed, 64)
	course, _ := strconv.ParseFloat(f.course, 64)

	s.mu.Lock()
	s.fix.Time = f.time
	s.fix.Latitude = lat
	s.fix.Longitude = lon
	s.fix.Speed = speed
	s.fix.Course = course
	s.mu.Unlock()
}

func (s *Service) applyGGA(sentence string, log *zap.Logger) {
	f, ok := parseGGA(sentence)
	if !ok {
		log.Debug("skipping invalid or incomplete $GNGGA sentence")
		return
	}

	lat, latErr := convertToDecimalDegrees(f.lat, f.ns)
	lon, lonErr := convertToDecimalDegrees(f.lon, f.ew)
	if latErr != nil || lonErr != nil {
		log.Debug("skipping unparseable $GNGGA coordinate")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		log.Debug("skipping out-of-range latitude or longitude in $GNGGA")
		return
	}

	altitude, _ := strconv.ParseFloat(f.altitude, 64)
	geoidHeight, _ := strconv.ParseFloat(f.geoidHeight, 64)
	if altitude < -1000 || altitude > 10000 {
		log.Debug("skipping invalid altitude in $GNGGA")
		return
	}

	s.mu.Lock()
	s.fix.Time = f.time
	s.fix.Latitude = lat
	s.fix.Longitude = lon
	s.fix.AltitudeAGL = altitude - geoidHeight
	s.fix.FixQuality = f.fixQuality
	s.fix.Satellites = f.satellites
	s.mu.Unlock()
}

// Fix returns a point-in-time snapshot of the latest applied fix.
func (s *Service) Fix() Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix
}

// IsDataReliable reports whether the latest fix has a usable quality: a
// nonzero fix quality and at least 4 satellites in view.
func (s *Service) IsDataReliable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix.FixQuality > 0 && s.fix.Satellites >= 4
}

// Stop signals Run to exit and closes the descriptor.
func (s *Service) Stop() error {
	atomic.StoreInt32(&s.stop, 1)
	err := s.port.Close()
	<-s.done
	return err
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// readerAdapter adapts a hal.SerialPort into an io.Reader that returns an
// error once Stop has been requested, so bufio.Scanner stops promptly.
type readerAdapter struct {
	port hal.SerialPort
	stop *int32
}

func (r *readerAdapter) Read(p []byte) (int, error) {
	if atomic.LoadInt32(r.stop) != 0 {
		return 0, fmt.Errorf("gps: stopped")
	}
	return r.port.Read(p)
}
