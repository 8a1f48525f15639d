package forwarder

import (
	"io"
	"log/slog"
	"testing"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		desc   string
		header Header
	}{
		{
			name: "push data carries eui",
			desc: "PUSH_DATA must round-trip its gateway EUI",
			header: Header{Version: ProtocolVersion, Token: 0x1234, Type: PushData, GwEUI: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, HasEUI: true},
		},
		{
			name:   "pull resp has no eui",
			desc:   "PULL_RESP carries no gateway EUI field at all",
			header: Header{Version: ProtocolVersion, Token: 0xABCD, Type: PullResp, HasEUI: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()
			got, offset, err := DecodeHeader(encoded)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}
			if got.Token != tt.header.Token || got.Type != tt.header.Type || got.HasEUI != tt.header.HasEUI {
				t.Errorf("%s: got %+v, want %+v", tt.desc, got, tt.header)
			}
			if tt.header.HasEUI && got.GwEUI != tt.header.GwEUI {
				t.Errorf("%s: EUI mismatch: got %X, want %X", tt.desc, got.GwEUI, tt.header.GwEUI)
			}
			wantOffset := 4
			if tt.header.HasEUI {
				wantOffset = 12
			}
			if offset != wantOffset {
				t.Errorf("%s: offset = %d, want %d", tt.desc, offset, wantOffset)
			}
		})
	}
}

func TestDecodeHeaderRejectsWrongVersion(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, byte(PushAck)}
	if _, _, err := DecodeHeader(data); err == nil {
		t.Errorf("expected error for unsupported protocol version")
	}
}

func TestTokenCountersAreIndependent(t *testing.T) {
	var push, pull TokenCounter

	firstPush := push.Next()
	firstPull := pull.Next()
	secondPush := push.Next()

	if firstPush != firstPull {
		t.Errorf("fresh counters should start identically: push=%d pull=%d", firstPush, firstPull)
	}
	if secondPush == firstPull {
		t.Errorf("advancing push must not advance pull: push now %d, pull still %d", secondPush, firstPull)
	}
}

func TestCodrString(t *testing.T) {
	tests := []struct {
		cr   uint8
		want string
	}{
		{cr: 1, want: "4/5"},
		{cr: 4, want: "4/8"},
	}
	for _, tt := range tests {
		if got := CodrString(tt.cr); got != tt.want {
			t.Errorf("CodrString(%d) = %q, want %q", tt.cr, got, tt.want)
		}
	}
}

func TestParseDatrRoundTrip(t *testing.T) {
	tests := []struct {
		datr      string
		wantSF    uint8
		wantBWKHz uint32
	}{
		{datr: "SF7BW125", wantSF: 7, wantBWKHz: 125},
		{datr: "SF10BW500", wantSF: 10, wantBWKHz: 500},
		{datr: "garbage", wantSF: 0, wantBWKHz: 0},
	}
	for _, tt := range tests {
		sf, bwKHz := ParseDatr(tt.datr)
		if sf != tt.wantSF || bwKHz != tt.wantBWKHz {
			t.Errorf("ParseDatr(%q) = (%d, %d), want (%d, %d)", tt.datr, sf, bwKHz, tt.wantSF, tt.wantBWKHz)
		}
	}
}

func TestParseCodr(t *testing.T) {
	tests := []struct {
		codr string
		want uint8
	}{
		{codr: "4/5", want: 1},
		{codr: "4/8", want: 4},
		{codr: "nonsense", want: 0},
	}
	for _, tt := range tests {
		if got := ParseCodr(tt.codr); got != tt.want {
			t.Errorf("ParseCodr(%q) = %d, want %d", tt.codr, got, tt.want)
		}
	}
}
