package config

import (
	"io"
	"log/slog"
	"testing"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEUIBytesRoundTrip(t *testing.T) {
	cfg := &Config{}
	want := [8]byte{0x00, 0x80, 0x00, 0xFF, 0xFE, 0x01, 0x02, 0x03}

	cfg.SetEUIString(want)
	got, err := cfg.EUIBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestEUIBytesRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		desc string
		eui  string
	}{
		{name: "not hex", desc: "non-hex characters must be rejected", eui: "not-a-valid-eui!"},
		{name: "wrong length", desc: "a truncated EUI must be rejected rather than silently zero-padded", eui: "0011"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{GatewayEUI: tt.eui}
			if _, err := cfg.EUIBytes(); err == nil {
				t.Errorf("%s: expected error for %q", tt.desc, tt.eui)
			}
		})
	}
}
