package bandplan

import (
	"io"
	"log/slog"
	"testing"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUplinkFrequency(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		sb      Subband
		channel uint8
		want    uint64
	}{
		{name: "sb2 ch0", desc: "default sub-band's first channel is 916.8MHz", sb: 2, channel: 0, want: 916800000},
		{name: "sb1 ch0", desc: "band floor is 915.2MHz", sb: 1, channel: 0, want: 915200000},
		{name: "sb8 ch7", desc: "last channel of the last sub-band is the band ceiling", sb: 8, channel: 7, want: 927800000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UplinkFrequency(tt.sb, tt.channel)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.desc, got, tt.want)
			}
		})
	}
}

func TestUplinkFrequencyRejectsOutOfRange(t *testing.T) {
	if _, err := UplinkFrequency(9, 0); err == nil {
		t.Errorf("expected error for sub-band 9")
	}
	if _, err := UplinkFrequency(1, 8); err == nil {
		t.Errorf("expected error for channel 8")
	}
}

func TestDownlinkFrequency(t *testing.T) {
	tests := []struct {
		name string
		desc string
		up   uint64
		want uint64
	}{
		{name: "sb2 ch0 downlink", desc: "916.8MHz uplink (n=8) maps to the second downlink channel", up: 916800000, want: 923900000},
		{name: "band ceiling downlink", desc: "every channel in the last sub-band group maps to the last downlink channel", up: 927800000, want: 927500000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DownlinkFrequency(tt.up)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.desc, got, tt.want)
			}
		})
	}
}

func TestEUI48ToEUI64(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33}
	want := [8]byte{0xAA, 0xBB, 0xCC, 0xFF, 0xFE, 0x11, 0x22, 0x33}

	if got := EUI48ToEUI64(mac); got != want {
		t.Errorf("got %X, want %X", got, want)
	}
}
