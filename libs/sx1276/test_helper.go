package sx1276

import (
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MockSPI records every transfer and replays a scripted register value on
// each subsequent read, matching the depth-one mock used by the sx126x
// tests: good enough to assert on framing without modeling the whole chip.
type MockSPI struct {
	TxData      []uint8
	RxData      []uint8
	ReturnError error
}

func (m *MockSPI) Tx(w, r []uint8) error {
	m.TxData = append(m.TxData, w...)
	if m.ReturnError != nil {
		return m.ReturnError
	}
	if r != nil && len(m.RxData) > 0 {
		copy(r, m.RxData)
	}
	return nil
}

func (m *MockSPI) Duplex() conn.Duplex            { return conn.Half }
func (m *MockSPI) TxPackets(p []spi.Packet) error { return nil }
func (m *MockSPI) String() string                 { return "MockSPI" }
func (m *MockSPI) Baud() physic.Frequency         { return 0 }

// MockPin implements gpio.PinIO well enough for device tests: it tracks the
// last value written, and WaitForEdge can be driven from tests via Trigger.
type MockPin struct {
	name    string
	level   gpio.Level
	edge    chan struct{}
}

func NewMockPin(name string) *MockPin {
	return &MockPin{name: name, edge: make(chan struct{}, 1)}
}

func (p *MockPin) String() string     { return p.name }
func (p *MockPin) Name() string       { return p.name }
func (p *MockPin) Number() int        { return -1 }
func (p *MockPin) Function() string   { return "" }
func (p *MockPin) Halt() error        { return nil }

func (p *MockPin) In(pull gpio.Pull, edge gpio.Edge) error { return nil }
func (p *MockPin) Read() gpio.Level                        { return p.level }
func (p *MockPin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edge:
		return true
	case <-time.After(timeout):
		return false
	}
}
func (p *MockPin) Pull() gpio.Pull            { return gpio.PullNoChange }
func (p *MockPin) DefaultPull() gpio.Pull     { return gpio.PullNoChange }

func (p *MockPin) Out(l gpio.Level) error {
	p.level = l
	return nil
}
func (p *MockPin) PWM(duty gpio.Duty, freq physic.Frequency) error { return nil }

// Trigger simulates a rising edge on the pin, as raising DIO0 would.
func (p *MockPin) Trigger() {
	p.level = gpio.High
	select {
	case p.edge <- struct{}{}:
	default:
	}
}

func newTestDevice(spiConn spi.Conn) *Device {
	return &Device{
		SPI:    spiConn,
		Config: ConfigDefaultAU915(),
		Queue: Queue{
			Rx: make(chan RxPacket, 32),
		},
		gpio: &pinsDirection{
			reset: NewMockPin("reset"),
			cs:    NewMockPin("cs"),
			dio0:  NewMockPin("dio0"),
		},
		mode: ModeSleep,
		done: make(chan struct{}),
	}
}
