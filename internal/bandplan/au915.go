// Package bandplan implements the AU915 channel-plan arithmetic used by the
// gateway to map a logical (sub-band, channel) pair onto an uplink
// frequency, and an uplink frequency back onto the matching RX1 downlink
// frequency. Grounded on gw_config_get_uplink_freq/get_downlink_freq from
// the reference firmware's gateway_config.c.
package bandplan

import "fmt"

const (
	FreqStartUp   uint64 = 915200000 // Hz, first AU915 uplink channel (sub-band 1, channel 0)
	FreqStepUp    uint64 = 200000    // Hz, spacing between the 64 125kHz uplink channels
	FreqStartDown uint64 = 923300000 // Hz, first AU915 downlink (RX1) channel
	FreqStepDown  uint64 = 600000    // Hz, spacing between the 8 500kHz downlink channels

	ChannelsPerSubband = 8
	SubbandCount       = 8
)

// Subband is the AU915 sub-band selector (1-8), matching au915_subband_t.
type Subband uint8

const DefaultSubband Subband = 2 // channels 8-15, 916.8-918.2MHz: the TTN-community default

// UplinkFrequency returns the uplink frequency for channel (0-7) within the
// given sub-band (1-8).
func UplinkFrequency(sb Subband, channel uint8) (uint64, error) {
	if sb < 1 || sb > SubbandCount {
		return 0, fmt.Errorf("sub-band %d out of range 1-%d", sb, SubbandCount)
	}
	if channel >= ChannelsPerSubband {
		return 0, fmt.Errorf("channel %d out of range 0-%d", channel, ChannelsPerSubband-1)
	}

	absoluteChannel := uint64(sb-1)*ChannelsPerSubband + uint64(channel)
	return FreqStartUp + absoluteChannel*FreqStepUp, nil
}

// DownlinkFrequency derives the RX1 downlink frequency for a given uplink
// frequency: n = (f_up - FreqStartUp) / FreqStepUp, dn_index = min(n/8, 7),
// f_dn = FreqStartDown + dn_index*FreqStepDown.
func DownlinkFrequency(uplinkHz uint64) (uint64, error) {
	if uplinkHz < FreqStartUp {
		return 0, fmt.Errorf("uplink frequency %dHz below AU915 band start", uplinkHz)
	}

	n := (uplinkHz - FreqStartUp) / FreqStepUp
	dnIndex := n / ChannelsPerSubband
	if dnIndex > SubbandCount-1 {
		dnIndex = SubbandCount - 1
	}
	return FreqStartDown + dnIndex*FreqStepDown, nil
}

// EUI48ToEUI64 derives a gateway EUI-64 from a 6-byte MAC address by
// inserting 0xFF 0xFE between the OUI and the NIC-specific bytes, the same
// derivation the reference firmware applies to its WiFi MAC at boot.
func EUI48ToEUI64(mac [6]byte) [8]byte {
	var eui [8]byte
	eui[0], eui[1], eui[2] = mac[0], mac[1], mac[2]
	eui[3], eui[4] = 0xFF, 0xFE
	eui[5], eui[6], eui[7] = mac[3], mac[4], mac[5]
	return eui
}
