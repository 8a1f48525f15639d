package sx1276

//go:generate stringer -type=Register
type Register uint8

// Register map. Addresses match the Semtech SX1276 datasheet.
const (
	RegFifo           Register = 0x00
	RegOpMode         Register = 0x01
	RegFrfMsb         Register = 0x06
	RegFrfMid         Register = 0x07
	RegFrfLsb         Register = 0x08
	RegPaConfig       Register = 0x09
	RegPaRamp         Register = 0x0A
	RegOcp            Register = 0x0B
	RegLna            Register = 0x0C
	RegFifoAddrPtr    Register = 0x0D
	RegFifoTxBaseAddr Register = 0x0E
	RegFifoRxBaseAddr Register = 0x0F
	RegFifoRxCurrAddr Register = 0x10
	RegIrqFlagsMask   Register = 0x11
	RegIrqFlags       Register = 0x12
	RegRxNbBytes      Register = 0x13
	RegModemStat      Register = 0x18
	RegPktSnrValue    Register = 0x19
	RegPktRssiValue   Register = 0x1A
	RegRssiValue      Register = 0x1B
	RegHopChannel     Register = 0x1C
	RegModemConfig1   Register = 0x1D
	RegModemConfig2   Register = 0x1E
	RegSymbTimeoutLsb Register = 0x1F
	RegPreambleMsb    Register = 0x20
	RegPreambleLsb    Register = 0x21
	RegPayloadLength  Register = 0x22
	RegMaxPayloadLen  Register = 0x23
	RegHopPeriod      Register = 0x24
	RegFifoRxByteAddr Register = 0x25
	RegModemConfig3   Register = 0x26
	RegInvertIQ       Register = 0x33
	RegDetectOptimize Register = 0x31
	RegDetectionThreshold Register = 0x37
	RegInvertIQ2      Register = 0x3B
	RegDioMapping1    Register = 0x40
	RegDioMapping2    Register = 0x41
	RegVersion        Register = 0x42
	RegPaDac          Register = 0x4D
)

//go:generate stringer -type=Mode
type Mode uint8

// Operating modes, written to the low 3 bits of RegOpMode alongside LongRangeMode.
const (
	ModeSleep        Mode = 0x00
	ModeStandby      Mode = 0x01
	ModeFSTx         Mode = 0x02
	ModeTx           Mode = 0x03
	ModeFSRx         Mode = 0x04
	ModeRxContinuous Mode = 0x05
	ModeRxSingle     Mode = 0x06
	ModeCAD          Mode = 0x07
)

const (
	opModeLongRangeMode uint8 = 0x80 // bit 7 of RegOpMode selects LoRa over FSK/OOK
	opModeAccessSharedReg = 0x40
)

// ChipVersion is the expected RegVersion reading for a genuine SX1276; New
// refuses to proceed against anything else.
const ChipVersion uint8 = 0x12

// DetectOptimize/DetectionThreshold values for the SF6 errata: SF6 needs a
// different correlator configuration than SF7-12.
const (
	detectOptimizeSF6     uint8 = 0x05
	detectOptimizeSF7To12 uint8 = 0x03
	detectionThresholdSF6     uint8 = 0x0C
	detectionThresholdSF7To12 uint8 = 0x0A
)

// modemConfig3LowDataRateOptimize is bit 3 of RegModemConfig3, required
// whenever the symbol period exceeds 16ms (SF>=11 at BW<=125kHz).
const modemConfig3LowDataRateOptimize uint8 = 0x08

// ocp100mA is RegOcp's fixed 100mA over-current-protection trip point.
const ocp100mA uint8 = 0x2B

//go:generate stringer -type=Bandwidth
type Bandwidth uint8

const (
	BW125kHz Bandwidth = 0x07 // 125 kHz, encoded in ModemConfig1 bits 7-4
	BW250kHz Bandwidth = 0x08
	BW500kHz Bandwidth = 0x09
)

//go:generate stringer -type=CodingRate
type CodingRate uint8

const (
	CR4_5 CodingRate = 0x01
	CR4_6 CodingRate = 0x02
	CR4_7 CodingRate = 0x03
	CR4_8 CodingRate = 0x04
)

// SpreadingFactor is the raw SF value (6-12), written to ModemConfig2 bits 7-4.
type SpreadingFactor uint8

const (
	SFMin SpreadingFactor = 6
	SFMax SpreadingFactor = 12
)

const (
	IrqRxTimeout      uint8 = 0x80
	IrqRxDone         uint8 = 0x40
	IrqPayloadCrcErr  uint8 = 0x20
	IrqValidHeader    uint8 = 0x10
	IrqTxDone         uint8 = 0x08
	IrqCadDone        uint8 = 0x04
	IrqFhssChangeChan uint8 = 0x02
	IrqCadDetected    uint8 = 0x01
	IrqAll            uint8 = 0xFF
)

const (
	FifoTxBaseAddr uint8 = 0x80
	FifoRxBaseAddr uint8 = 0x00
	MaxPayloadSize int   = 255
)

// DioMapping1 bits 7-6 select the function of DIO0.
const (
	Dio0RxDone uint8 = 0x00 << 6
	Dio0TxDone uint8 = 0x01 << 6
	Dio0CadDone uint8 = 0x01 << 6 // only valid while in CAD mode
)

//go:generate stringer -type=DriverStatus
type DriverStatus int

const (
	StatusIdle DriverStatus = iota
	StatusRxContinuous
	StatusRxSingle
	StatusTxWait
	StatusTxDone
	StatusCadWait
	StatusCadDone
)

// RxPacket is one frame delivered off the FIFO on an RX_DONE interrupt.
type RxPacket struct {
	Payload   []uint8
	Freq      uint64
	SF        uint8
	BWKHz     uint32
	CR        uint8
	Rssi      int16
	Snr       float32
	CrcOK     bool
	Timestamp uint32 // driver-local monotonic microseconds, wraps per spec
}

// BandwidthKHz converts a register-encoded Bandwidth into kHz, for
// reporting in rxpk/txpk "datr" strings.
func BandwidthKHz(bw Bandwidth) uint32 {
	switch bw {
	case BW250kHz:
		return 250
	case BW500kHz:
		return 500
	default:
		return 125
	}
}
