package sx1276

// Config mirrors the tunable fields of sx1276_config_t from the reference
// firmware, plus the GPIO wiring needed to drive two independent radios off
// one SPI bus.
type Config struct {
	Enable         bool   `yaml:"enable" env:"SX1276_ENABLE" env-default:"true"`
	Frequency      uint64 `yaml:"frequency" env:"SX1276_FREQUENCY" env-default:"916800000"`
	SpreadingFactor uint8 `yaml:"spreading_factor" env:"SX1276_SF" env-default:"7"`
	Bandwidth      uint8  `yaml:"bandwidth" env:"SX1276_BW" env-default:"7"` // BW125kHz
	CodingRate     uint8  `yaml:"coding_rate" env:"SX1276_CR" env-default:"1"` // CR4_5
	TxPower        int8   `yaml:"tx_power" env:"SX1276_TX_POWER" env-default:"14"`
	SyncWord       uint8  `yaml:"sync_word" env:"SX1276_SYNC_WORD" env-default:"0x34"`
	PreambleLength uint16 `yaml:"preamble_length" env:"SX1276_PREAMBLE_LEN" env-default:"8"`
	CRCOn          bool   `yaml:"crc_on" env:"SX1276_CRC_ON" env-default:"true"`
	ImplicitHeader bool   `yaml:"implicit_header" env:"SX1276_IMPLICIT_HEADER" env-default:"false"`
	InvertIQRx     bool   `yaml:"invert_iq_rx" env:"SX1276_INVERT_IQ_RX" env-default:"false"`
	InvertIQTx     bool   `yaml:"invert_iq_tx" env:"SX1276_INVERT_IQ_TX" env-default:"true"`
	RxQueueSize    uint8  `yaml:"rx_queue_size" env:"SX1276_RX_QUEUE_SIZE" env-default:"32"`
	Pins           *Pins  `yaml:"pins"`
}

type Pins struct {
	Reset string `yaml:"reset" env:"SX1276_GPIO_RESET"`
	CS    string `yaml:"cs" env:"SX1276_GPIO_CS"`
	DIO0  string `yaml:"dio0" env:"SX1276_GPIO_DIO0"`
	DIO1  string `yaml:"dio1" env:"SX1276_GPIO_DIO1"`
	DIO2  string `yaml:"dio2" env:"SX1276_GPIO_DIO2"`
}

// ConfigDefaultAU915 returns the defaults baked into the reference firmware's
// SX1276_CONFIG_DEFAULT_AU915() macro: sub-band 2, channel 0, SF7/BW125/CR4_5,
// 14 dBm, public LoRaWAN sync word 0x34, TX IQ inverted (required on this chip to
// talk to standard LoRaWAN end-devices).
func ConfigDefaultAU915() *Config {
	return &Config{
		Enable:          true,
		Frequency:       916800000,
		SpreadingFactor: 7,
		Bandwidth:       uint8(BW125kHz),
		CodingRate:      uint8(CR4_5),
		TxPower:         14,
		SyncWord:        0x34,
		PreambleLength:  8,
		CRCOn:           true,
		ImplicitHeader:  false,
		InvertIQRx:      false,
		InvertIQTx:      true,
		RxQueueSize:     32,
	}
}
