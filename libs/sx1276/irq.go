package sx1276

import (
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Run starts the per-radio interrupt event loop. Go has no interrupt
// context, so where the reference firmware's dio0_isr_handler runs on the
// MCU's interrupt stack and only touches atomics/queues, this goroutine
// blocks on gpio.PinIn.WaitForEdge and does the equivalent work: read the
// IRQ flags register, pull the finished frame off the FIFO, and hand it to
// the device's Rx queue or signal TX completion. It never returns until
// Close is called.
func (d *Device) Run() {
	log := slog.With("func", "Device.Run()", "params", "(-)", "return", "(-)", "lib", "sx1276")
	log.Info("SX1276 interrupt event loop starting")

	for {
		select {
		case <-d.done:
			log.Info("SX1276 interrupt event loop stopping")
			return
		default:
		}

		if !d.gpio.dio0.WaitForEdge(250 * time.Millisecond) {
			continue
		}
		if d.gpio.dio0.Read() != gpio.High {
			continue
		}

		if err := d.handleDio0(); err != nil {
			log.Error("DIO0 handling failed", "error", err)
		}
	}
}

func (d *Device) handleDio0() error {
	log := slog.With("func", "Device.handleDio0()", "params", "(-)", "return", "(error)", "lib", "sx1276")

	flags, err := d.readRegister(RegIrqFlags)
	if err != nil {
		return err
	}

	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	switch {
	case flags&IrqTxDone != 0:
		if err := d.writeRegister(RegIrqFlags, IrqTxDone); err != nil {
			return err
		}
		d.mu.Lock()
		d.status = StatusTxDone
		d.mu.Unlock()
		log.Debug("TX done")
		return nil

	case flags&IrqRxDone != 0 && mode == ModeRxContinuous:
		return d.handleRxDone(flags)

	default:
		// Spurious edge, or a CAD-mode interrupt handled synchronously by
		// ChannelFree's own poll loop.
		return nil
	}
}

func (d *Device) handleRxDone(flags uint8) error {
	log := slog.With("func", "Device.handleRxDone()", "params", "(uint8)", "return", "(error)", "lib", "sx1276")

	defer d.writeRegister(RegIrqFlags, IrqAll)

	crcOK := flags&IrqPayloadCrcErr == 0

	length, err := d.readRegister(RegRxNbBytes)
	if err != nil {
		return err
	}
	currentAddr, err := d.readRegister(RegFifoRxCurrAddr)
	if err != nil {
		return err
	}
	if err := d.writeRegister(RegFifoAddrPtr, currentAddr); err != nil {
		return err
	}
	payload, err := d.readFifo(int(length))
	if err != nil {
		return err
	}

	rssi, err := d.GetPacketRssi()
	if err != nil {
		return err
	}
	snr, err := d.GetPacketSnr()
	if err != nil {
		return err
	}

	pkt := RxPacket{
		Payload:   payload,
		Freq:      d.Config.Frequency,
		SF:        d.Config.SpreadingFactor,
		BWKHz:     BandwidthKHz(Bandwidth(d.Config.Bandwidth)),
		CR:        d.Config.CodingRate,
		Rssi:      rssi,
		Snr:       snr,
		CrcOK:     crcOK,
		Timestamp: uint32(time.Now().UnixMicro()),
	}

	select {
	case d.Queue.Rx <- pkt:
	default:
		log.Warn("RX queue full, dropping packet")
	}

	return nil
}
