package hal

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// RaspberryPiHAL wires the GPIO/I2C/Serial providers to real hardware:
// go-rpio for GPIO, periph.io for I2C, go.bug.st/serial for UART.
type RaspberryPiHAL struct {
	mu       sync.Mutex
	pins     map[int]rpio.Pin
	i2cBuses map[string]i2c.BusCloser
	gpio     *rpiGPIO
	i2c      *rpiI2C
	ser      *rpiSerial
}

func NewRaspberryPiHAL() (*RaspberryPiHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w", err)
	}

	h := &RaspberryPiHAL{
		pins:     make(map[int]rpio.Pin),
		i2cBuses: make(map[string]i2c.BusCloser),
	}
	h.gpio = &rpiGPIO{hal: h}
	h.i2c = &rpiI2C{hal: h}
	h.ser = &rpiSerial{}
	return h, nil
}

func (h *RaspberryPiHAL) GPIO() GPIOProvider     { return h.gpio }
func (h *RaspberryPiHAL) I2C() I2CProvider       { return h.i2c }
func (h *RaspberryPiHAL) Serial() SerialProvider { return h.ser }

func (h *RaspberryPiHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, bus := range h.i2cBuses {
		bus.Close()
	}
	return rpio.Close()
}

type rpiGPIO struct {
	hal *RaspberryPiHAL
}

func (g *rpiGPIO) SetMode(pin int, mode PinMode) error {
	g.hal.mu.Lock()
	defer g.hal.mu.Unlock()

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}
	g.hal.pins[pin] = p
	return nil
}

func (g *rpiGPIO) SetPull(pin int, pull PullMode) error {
	g.hal.mu.Lock()
	p, ok := g.hal.pins[pin]
	g.hal.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}

	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	case PullNone:
		p.PullOff()
	}
	return nil
}

func (g *rpiGPIO) DigitalWrite(pin int, value bool) error {
	g.hal.mu.Lock()
	p, ok := g.hal.pins[pin]
	g.hal.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	if value {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *rpiGPIO) DigitalRead(pin int) (bool, error) {
	g.hal.mu.Lock()
	p, ok := g.hal.pins[pin]
	g.hal.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return p.Read() == rpio.High, nil
}

func (g *rpiGPIO) Close() error { return nil }

type rpiI2C struct {
	hal *RaspberryPiHAL
}

func (i *rpiI2C) OpenBus(name string) (I2CBus, error) {
	i.hal.mu.Lock()
	defer i.hal.mu.Unlock()

	if existing, ok := i.hal.i2cBuses[name]; ok {
		return &i2cBusWrapper{bus: existing}, nil
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", name, err)
	}
	i.hal.i2cBuses[name] = bus
	return &i2cBusWrapper{bus: bus}, nil
}

type i2cBusWrapper struct {
	bus i2c.Bus
}

func (w *i2cBusWrapper) Write(addr uint16, data []byte) error {
	return w.bus.Tx(addr, data, nil)
}

func (w *i2cBusWrapper) Read(addr uint16, data []byte) error {
	return w.bus.Tx(addr, nil, data)
}

func (w *i2cBusWrapper) WriteRead(addr uint16, write []byte, read []byte) error {
	return w.bus.Tx(addr, write, read)
}

func (w *i2cBusWrapper) Close() error { return nil }

type rpiSerial struct{}

func (s *rpiSerial) Open(port string, baud int) (SerialPort, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return &serialPortWrapper{port: p}, nil
}

type serialPortWrapper struct {
	port serial.Port
}

func (w *serialPortWrapper) Read(buffer []byte) (int, error)  { return w.port.Read(buffer) }
func (w *serialPortWrapper) Write(data []byte) (int, error)   { return w.port.Write(data) }
func (w *serialPortWrapper) Close() error                     { return w.port.Close() }
