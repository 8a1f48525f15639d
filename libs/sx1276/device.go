package sx1276

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
)

type pinsDirection struct {
	reset gpio.PinOut
	cs    gpio.PinOut
	dio0  gpio.PinIn
	dio1  gpio.PinIn
	dio2  gpio.PinIn
}

type Queue struct {
	Rx chan RxPacket
}

type Device struct {
	SPI    spi.Conn
	Config *Config
	Queue  Queue

	mu     sync.Mutex
	mode   Mode
	status DriverStatus
	gpio   *pinsDirection
	done   chan struct{}
}

// New wires a Device to an SPI bus and the five control pins (RESET, CS,
// DIO0-2). DIO1 and DIO2 are optional: an empty Pins.DIO1/Pins.DIO2 name
// leaves that line unconfigured, matching the reference firmware's
// single-radio wiring.
func New(conn spi.Conn, cfg *Config) (*Device, error) {
	log := slog.With("func", "New()", "params", "(spi.Conn, *Config)", "return", "(*Device, error)", "lib", "sx1276")
	log.Info("Initializing SX1276 module")

	if !cfg.Enable {
		return nil, fmt.Errorf("SX1276 radio disabled in the config")
	}
	if conn == nil {
		return nil, fmt.Errorf("SPI bus connection state improper")
	}

	loadPin := func(name string) (gpio.PinIO, error) {
		if name == "" {
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("pin not found: %s", name)
		}
		return p, nil
	}

	var err error
	pins := &pinsDirection{}

	resetPin, err := loadPin(cfg.Pins.Reset)
	if err != nil {
		return nil, err
	}
	csPin, err := loadPin(cfg.Pins.CS)
	if err != nil {
		return nil, err
	}
	dio0Pin, err := loadPin(cfg.Pins.DIO0)
	if err != nil {
		return nil, err
	}
	dio1Pin, err := loadPin(cfg.Pins.DIO1)
	if err != nil {
		return nil, err
	}
	dio2Pin, err := loadPin(cfg.Pins.DIO2)
	if err != nil {
		return nil, err
	}

	pins.reset = resetPin
	pins.cs = csPin
	pins.dio0 = dio0Pin
	pins.dio1 = dio1Pin
	pins.dio2 = dio2Pin

	if pins.reset == nil || pins.cs == nil || pins.dio0 == nil {
		return nil, fmt.Errorf("RESET, CS and DIO0 pins are required")
	}

	if err := pins.reset.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to set RESET pin state to HIGH: %w", err)
	}
	if err := pins.cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to set CS pin state to HIGH: %w", err)
	}
	if err := pins.dio0.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("failed to set DIO0 pin pull down and edge detection: %w", err)
	}
	if pins.dio1 != nil {
		if err := pins.dio1.In(gpio.PullDown, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("failed to configure DIO1 pin: %w", err)
		}
	}
	if pins.dio2 != nil {
		if err := pins.dio2.In(gpio.PullDown, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("failed to configure DIO2 pin: %w", err)
		}
	}

	if cfg.RxQueueSize == 0 {
		cfg.RxQueueSize = 32
		log.Warn("RX queue size cannot be 0; resized to 32")
	}

	d := &Device{
		SPI: conn,
		Config: cfg,
		Queue: Queue{
			Rx: make(chan RxPacket, cfg.RxQueueSize),
		},
		gpio:   pins,
		mode:   ModeSleep,
		status: StatusIdle,
		done:   make(chan struct{}),
	}

	if err := d.HardReset(); err != nil {
		return nil, fmt.Errorf("failed to reset radio: %w", err)
	}

	version, err := d.GetVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to read chip version: %w", err)
	}
	if version != ChipVersion {
		return nil, fmt.Errorf("unexpected chip version 0x%02X, want 0x%02X", version, ChipVersion)
	}
	log.Info("SX1276 detected", "version", fmt.Sprintf("0x%02X", version))

	// Mode-entry sequence: the chip comes up in FSK sleep mode and must be
	// walked into LoRa sleep before LoRa standby, each settling for 10ms.
	if err := d.writeRegister(RegOpMode, opModeLongRangeMode|uint8(ModeSleep)); err != nil {
		return nil, fmt.Errorf("failed to enter LoRa sleep mode: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := d.writeRegister(RegOpMode, opModeLongRangeMode|uint8(ModeStandby)); err != nil {
		return nil, fmt.Errorf("failed to enter LoRa standby mode: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	d.mode = ModeStandby

	return d, nil
}

// Close puts the radio to sleep and stops its interrupt event loop.
func (d *Device) Close() error {
	log := slog.With("func", "Device.Close()", "params", "(-)", "return", "(error)", "lib", "sx1276")
	log.Info("Closing SX1276 module")

	close(d.done)

	if err := d.SetMode(ModeSleep); err != nil {
		log.Error("Could not set sleep mode", "error", err)
		return err
	}
	return nil
}
