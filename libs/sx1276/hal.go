package sx1276

import (
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// HardReset pulses the RESET pin low for 100us and waits the 5ms the
// datasheet requires before the chip is ready to accept SPI commands. The
// SX1276 has no BUSY line, unlike the SX126x family, so readiness is a fixed
// delay rather than a polled signal.
func (d *Device) HardReset() error {
	log := slog.With("func", "Device.HardReset()", "params", "(-)", "return", "(error)", "lib", "sx1276")
	log.Debug("SX1276 hard reset")

	if err := d.gpio.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set RESET pin state to LOW: %w", err)
	}
	time.Sleep(100 * time.Microsecond)
	if err := d.gpio.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set RESET pin state to HIGH: %w", err)
	}
	time.Sleep(5 * time.Millisecond)

	log.Info("SX1276 hard reset success")
	return nil
}

// writeRegister sends the SX1276's single-byte write frame: address with the
// write bit (MSB) set, followed by the value. CS brackets the transfer.
func (d *Device) writeRegister(address Register, value uint8) error {
	if err := d.gpio.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert CS: %w", err)
	}
	defer d.gpio.cs.Out(gpio.High)

	w := []uint8{uint8(address) | 0x80, value}
	r := make([]uint8, 2)
	if err := d.SPI.Tx(w, r); err != nil {
		return fmt.Errorf("could not write register 0x%02X: %w", address, err)
	}
	return nil
}

// readRegister sends the read frame: address with the read bit (MSB) clear,
// followed by a dummy byte to shift the value out.
func (d *Device) readRegister(address Register) (uint8, error) {
	if err := d.gpio.cs.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("failed to assert CS: %w", err)
	}
	defer d.gpio.cs.Out(gpio.High)

	w := []uint8{uint8(address) & 0x7F, 0x00}
	r := make([]uint8, 2)
	if err := d.SPI.Tx(w, r); err != nil {
		return 0, fmt.Errorf("could not read register 0x%02X: %w", address, err)
	}
	return r[1], nil
}

// writeFifo bursts payload bytes into the FIFO starting at the address
// already latched into RegFifoAddrPtr.
func (d *Device) writeFifo(payload []uint8) error {
	if err := d.gpio.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert CS: %w", err)
	}
	defer d.gpio.cs.Out(gpio.High)

	w := append([]uint8{uint8(RegFifo) | 0x80}, payload...)
	r := make([]uint8, len(w))
	if err := d.SPI.Tx(w, r); err != nil {
		return fmt.Errorf("could not write FIFO: %w", err)
	}
	return nil
}

// readFifo bursts n bytes out of the FIFO starting at the address already
// latched into RegFifoAddrPtr.
func (d *Device) readFifo(n int) ([]uint8, error) {
	if err := d.gpio.cs.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to assert CS: %w", err)
	}
	defer d.gpio.cs.Out(gpio.High)

	w := make([]uint8, n+1)
	w[0] = uint8(RegFifo) & 0x7F
	r := make([]uint8, n+1)
	if err := d.SPI.Tx(w, r); err != nil {
		return nil, fmt.Errorf("could not read FIFO: %w", err)
	}
	return r[1:], nil
}
