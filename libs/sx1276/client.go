package sx1276

import (
	"fmt"
	"log/slog"
	"time"
)

// SetMode writes the 3-bit operating mode alongside the LongRangeMode bit,
// which this driver always keeps set: the gateway never touches FSK/OOK.
func (d *Device) SetMode(mode Mode) error {
	log := slog.With("func", "Device.SetMode()", "params", "(Mode)", "return", "(error)", "lib", "sx1276")
	log.Debug("Set operating mode", "mode", mode)

	d.mu.Lock()
	defer d.mu.Unlock()

	value := opModeLongRangeMode | uint8(mode)
	if err := d.writeRegister(RegOpMode, value); err != nil {
		return fmt.Errorf("failed to set mode %v: %w", mode, err)
	}
	d.mode = mode
	return nil
}

// SetFrequency programs RegFrfMsb/Mid/Lsb. Frf = freq * 2^19 / 32e6, the
// standard SX1276 PLL step derived from a 32MHz crystal.
func (d *Device) SetFrequency(hz uint64) error {
	log := slog.With("func", "Device.SetFrequency()", "params", "(uint64)", "return", "(error)", "lib", "sx1276")
	log.Debug("Set frequency", "hz", hz)

	frf := (hz << 19) / 32000000
	if err := d.writeRegister(RegFrfMsb, uint8(frf>>16)); err != nil {
		return err
	}
	if err := d.writeRegister(RegFrfMid, uint8(frf>>8)); err != nil {
		return err
	}
	if err := d.writeRegister(RegFrfLsb, uint8(frf)); err != nil {
		return err
	}
	d.Config.Frequency = hz
	return nil
}

// SetSpreadingFactor writes SF into the top nibble of ModemConfig2, clamped
// to the chip's valid 6-12 range. It also applies SF6's detection-optimize/
// detection-threshold errata tweak and the low-data-rate-optimize bit
// (SF>=11 at BW<=125kHz), so a mid-session SF change from the channel
// manager's TX worker keeps these derived bits correct.
func (d *Device) SetSpreadingFactor(sf uint8) error {
	log := slog.With("func", "Device.SetSpreadingFactor()", "params", "(uint8)", "return", "(error)", "lib", "sx1276")

	if sf < uint8(SFMin) || sf > uint8(SFMax) {
		log.Warn("Spreading factor out of range, clamping", "sf", sf)
		if sf < uint8(SFMin) {
			sf = uint8(SFMin)
		} else {
			sf = uint8(SFMax)
		}
	}

	current, err := d.readRegister(RegModemConfig2)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig2: %w", err)
	}
	value := (current & 0x0F) | (sf << 4)
	if err := d.writeRegister(RegModemConfig2, value); err != nil {
		return err
	}

	// SF6 requires a different correlator configuration than SF7-12.
	if sf == uint8(SFMin) {
		if err := d.writeRegister(RegDetectOptimize, detectOptimizeSF6); err != nil {
			return err
		}
		if err := d.writeRegister(RegDetectionThreshold, detectionThresholdSF6); err != nil {
			return err
		}
	} else {
		if err := d.writeRegister(RegDetectOptimize, detectOptimizeSF7To12); err != nil {
			return err
		}
		if err := d.writeRegister(RegDetectionThreshold, detectionThresholdSF7To12); err != nil {
			return err
		}
	}

	// Low-data-rate-optimize is required once the symbol period exceeds
	// 16ms: SF11/12 at 125kHz or narrower.
	config3, err := d.readRegister(RegModemConfig3)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig3: %w", err)
	}
	if sf >= 11 && Bandwidth(d.Config.Bandwidth) <= BW125kHz {
		config3 |= modemConfig3LowDataRateOptimize
	} else {
		config3 &^= modemConfig3LowDataRateOptimize
	}
	if err := d.writeRegister(RegModemConfig3, config3); err != nil {
		return err
	}

	d.Config.SpreadingFactor = sf
	return nil
}

// SetBandwidth writes the bandwidth code into the top nibble of ModemConfig1.
func (d *Device) SetBandwidth(bw Bandwidth) error {
	current, err := d.readRegister(RegModemConfig1)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig1: %w", err)
	}
	value := (current & 0x0F) | (uint8(bw) << 4)
	if err := d.writeRegister(RegModemConfig1, value); err != nil {
		return err
	}
	d.Config.Bandwidth = uint8(bw)
	return nil
}

// SetCodingRate writes the coding-rate code into bits 3-1 of ModemConfig1.
func (d *Device) SetCodingRate(cr CodingRate) error {
	current, err := d.readRegister(RegModemConfig1)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig1: %w", err)
	}
	value := (current & 0xF1) | (uint8(cr) << 1)
	if err := d.writeRegister(RegModemConfig1, value); err != nil {
		return err
	}
	d.Config.CodingRate = uint8(cr)
	return nil
}

// SetTxPower programs PaConfig. Power >17dBm requires the PA_BOOST pin and
// the high-power PA_DAC setting; this driver assumes PA_BOOST wiring, which
// every AU915 gateway reference design uses to reach 20dBm+.
func (d *Device) SetTxPower(dbm int8) error {
	log := slog.With("func", "Device.SetTxPower()", "params", "(int8)", "return", "(error)", "lib", "sx1276")
	log.Debug("Set TX power", "dbm", dbm)

	const paBoost uint8 = 0x80
	if dbm > 20 {
		dbm = 20
	}
	if dbm < 2 {
		dbm = 2
	}

	if dbm > 17 {
		if err := d.writeRegister(RegPaDac, 0x87); err != nil {
			return err
		}
		outputPower := uint8(dbm) - 5
		if err := d.writeRegister(RegPaConfig, paBoost|(outputPower&0x0F)); err != nil {
			return err
		}
		return d.writeRegister(RegOcp, ocp100mA)
	}

	if err := d.writeRegister(RegPaDac, 0x84); err != nil {
		return err
	}
	outputPower := uint8(dbm) - 2
	if err := d.writeRegister(RegPaConfig, paBoost|(outputPower&0x0F)); err != nil {
		return err
	}
	return d.writeRegister(RegOcp, ocp100mA)
}

func (d *Device) SetSyncWord(word uint8) error {
	return d.writeRegister(0x39, word) // RegSyncWord, only used in LoRa mode
}

// SetInvertIQ toggles IQ inversion used on the gateway's RX path to receive
// uplinks (transmitted with standard IQ by end-devices) and on its TX path
// to send downlinks end-devices expect inverted, per LoRaWAN convention.
func (d *Device) SetInvertIQ(invert bool) error {
	if invert {
		if err := d.writeRegister(RegInvertIQ, 0x66); err != nil {
			return err
		}
		return d.writeRegister(RegInvertIQ2, 0x19)
	}
	if err := d.writeRegister(RegInvertIQ, 0x27); err != nil {
		return err
	}
	return d.writeRegister(RegInvertIQ2, 0x1D)
}

// ApplyConfig pushes every field of Config to the chip. It first forces the
// radio into ModeStandby, so it may be called from any mode.
func (d *Device) ApplyConfig() error {
	log := slog.With("func", "Device.ApplyConfig()", "params", "(-)", "return", "(error)", "lib", "sx1276")
	log.Info("Applying radio configuration")

	cfg := d.Config

	if err := d.SetMode(ModeStandby); err != nil {
		return fmt.Errorf("failed to force standby before configuring: %w", err)
	}

	if err := d.SetFrequency(cfg.Frequency); err != nil {
		return fmt.Errorf("failed to apply frequency: %w", err)
	}
	if err := d.SetBandwidth(Bandwidth(cfg.Bandwidth)); err != nil {
		return fmt.Errorf("failed to apply bandwidth: %w", err)
	}
	if err := d.SetCodingRate(CodingRate(cfg.CodingRate)); err != nil {
		return fmt.Errorf("failed to apply coding rate: %w", err)
	}
	if err := d.SetSpreadingFactor(cfg.SpreadingFactor); err != nil {
		return fmt.Errorf("failed to apply spreading factor: %w", err)
	}
	if err := d.SetTxPower(cfg.TxPower); err != nil {
		return fmt.Errorf("failed to apply TX power: %w", err)
	}
	if err := d.SetSyncWord(cfg.SyncWord); err != nil {
		return fmt.Errorf("failed to apply sync word: %w", err)
	}

	if err := d.writeRegister(RegPreambleMsb, uint8(cfg.PreambleLength>>8)); err != nil {
		return err
	}
	if err := d.writeRegister(RegPreambleLsb, uint8(cfg.PreambleLength)); err != nil {
		return err
	}

	modemConfig2, err := d.readRegister(RegModemConfig2)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig2: %w", err)
	}
	if cfg.CRCOn {
		modemConfig2 |= 0x04
	} else {
		modemConfig2 &^= 0x04
	}
	if err := d.writeRegister(RegModemConfig2, modemConfig2); err != nil {
		return err
	}

	modemConfig1, err := d.readRegister(RegModemConfig1)
	if err != nil {
		return fmt.Errorf("failed to read ModemConfig1: %w", err)
	}
	if cfg.ImplicitHeader {
		modemConfig1 |= 0x01
	} else {
		modemConfig1 &^= 0x01
	}
	if err := d.writeRegister(RegModemConfig1, modemConfig1); err != nil {
		return err
	}

	if err := d.writeRegister(RegFifoTxBaseAddr, FifoTxBaseAddr); err != nil {
		return err
	}
	if err := d.writeRegister(RegFifoRxBaseAddr, FifoRxBaseAddr); err != nil {
		return err
	}

	return nil
}

// StartRx puts the radio in continuous-RX mode and maps DIO0 to RxDone.
func (d *Device) StartRx() error {
	if err := d.SetInvertIQ(d.Config.InvertIQRx); err != nil {
		return fmt.Errorf("failed to set RX IQ polarity: %w", err)
	}
	if err := d.writeRegister(RegDioMapping1, Dio0RxDone); err != nil {
		return err
	}
	if err := d.writeRegister(RegFifoAddrPtr, FifoRxBaseAddr); err != nil {
		return err
	}
	if err := d.SetMode(ModeRxContinuous); err != nil {
		return err
	}
	d.mu.Lock()
	d.status = StatusRxContinuous
	d.mu.Unlock()
	return nil
}

func (d *Device) StopRx() error {
	if err := d.SetMode(ModeStandby); err != nil {
		return err
	}
	d.mu.Lock()
	d.status = StatusIdle
	d.mu.Unlock()
	return nil
}

// Transmit loads payload into the FIFO and switches to TX mode. DIO0 is
// re-mapped to TxDone; once the IRQ fires, the interrupt event loop
// (irq.go) clears the TxDone flag and marks the transmission done.
func (d *Device) Transmit(payload []uint8) error {
	log := slog.With("func", "Device.Transmit()", "params", "([]uint8)", "return", "(error)", "lib", "sx1276")

	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload length %d out of range", len(payload))
	}

	if err := d.SetMode(ModeStandby); err != nil {
		return err
	}
	if err := d.SetInvertIQ(d.Config.InvertIQTx); err != nil {
		return fmt.Errorf("failed to set TX IQ polarity: %w", err)
	}
	if err := d.writeRegister(RegFifoAddrPtr, FifoTxBaseAddr); err != nil {
		return err
	}
	if err := d.writeRegister(RegPayloadLength, uint8(len(payload))); err != nil {
		return err
	}
	if err := d.writeFifo(payload); err != nil {
		return fmt.Errorf("failed to load TX FIFO: %w", err)
	}
	if err := d.writeRegister(RegDioMapping1, Dio0TxDone); err != nil {
		return err
	}

	d.mu.Lock()
	d.status = StatusTxWait
	d.mu.Unlock()

	log.Debug("Transmit started", "length", len(payload))
	return d.SetMode(ModeTx)
}

// GetPacketRssi returns the RSSI of the last received packet, corrected for
// the AU915 high-frequency-band offset (-157 rather than -164).
func (d *Device) GetPacketRssi() (int16, error) {
	raw, err := d.readRegister(RegPktRssiValue)
	if err != nil {
		return 0, err
	}
	return int16(-157 + int(raw)), nil
}

// GetPacketSnr returns the SNR of the last received packet in dB. The
// register holds a signed value in steps of 0.25dB.
func (d *Device) GetPacketSnr() (float32, error) {
	raw, err := d.readRegister(RegPktSnrValue)
	if err != nil {
		return 0, err
	}
	return float32(int8(raw)) / 4.0, nil
}

func (d *Device) GetRssi() (int16, error) {
	raw, err := d.readRegister(RegRssiValue)
	if err != nil {
		return 0, err
	}
	return int16(-157 + int(raw)), nil
}

// ChannelFree runs a channel-activity-detection cycle with a 100ms timeout,
// used before scheduled transmit-on-listen-before-talk policies that a
// regulatory domain may require. Returns true if no CAD was detected.
func (d *Device) ChannelFree() (bool, error) {
	if err := d.writeRegister(RegDioMapping1, Dio0CadDone); err != nil {
		return false, err
	}
	if err := d.SetMode(ModeCAD); err != nil {
		return false, err
	}

	deadline := time.After(100 * time.Millisecond)

	for {
		flags, err := d.readRegister(RegIrqFlags)
		if err != nil {
			return false, err
		}
		if flags&IrqCadDone != 0 {
			detected := flags&IrqCadDetected != 0
			if err := d.writeRegister(RegIrqFlags, IrqCadDone|IrqCadDetected); err != nil {
				return false, err
			}
			return !detected, nil
		}
		select {
		case <-deadline:
			return true, fmt.Errorf("CAD timed out")
		default:
		}
	}
}

func (d *Device) GetVersion() (uint8, error) {
	return d.readRegister(RegVersion)
}
