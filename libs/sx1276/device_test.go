package sx1276

import (
	"io"
	"log/slog"
	"testing"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSetFrequency(t *testing.T) {
	tests := []struct {
		name string
		desc string
		hz   uint64
	}{
		{name: "au915 channel 0", desc: "916.8MHz, the AU915 default uplink test frequency", hz: 916800000},
		{name: "au915 downlink rx1", desc: "923.3MHz, the first AU915 downlink channel", hz: 923300000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSPI{}
			d := newTestDevice(mock)

			if err := d.SetFrequency(tt.hz); err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}

			frf := (tt.hz << 19) / 32000000
			want := []uint8{uint8(RegFrfMsb) | 0x80, uint8(frf >> 16), uint8(RegFrfMid) | 0x80, uint8(frf >> 8), uint8(RegFrfLsb) | 0x80, uint8(frf)}
			if len(mock.TxData) != len(want) {
				t.Fatalf("%s: wrote %d bytes, want %d", tt.desc, len(mock.TxData), len(want))
			}
			for i := range want {
				if mock.TxData[i] != want[i] {
					t.Errorf("%s: byte %d = 0x%02X, want 0x%02X", tt.desc, i, mock.TxData[i], want[i])
				}
			}
		})
	}
}

func TestSetSpreadingFactorClamps(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		sf      uint8
		wantTop uint8
	}{
		{name: "sf7 passthrough", desc: "SF7 is the AU915 gateway default and must pass through unchanged", sf: 7, wantTop: 7},
		{name: "sf below floor clamps to 6", desc: "the chip has no SF below 6", sf: 3, wantTop: 6},
		{name: "sf above ceiling clamps to 12", desc: "the chip has no SF above 12", sf: 20, wantTop: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSPI{RxData: []uint8{0x00, 0x00}}
			d := newTestDevice(mock)

			if err := d.SetSpreadingFactor(tt.sf); err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}

			var written uint8
			found := false
			for i := 0; i+1 < len(mock.TxData); i++ {
				if mock.TxData[i] == uint8(RegModemConfig2)|0x80 {
					written = mock.TxData[i+1]
					found = true
				}
			}
			if !found {
				t.Fatalf("%s: never wrote ModemConfig2", tt.desc)
			}
			if written>>4 != tt.wantTop {
				t.Errorf("%s: wrote SF nibble %d, want %d", tt.desc, written>>4, tt.wantTop)
			}
		})
	}
}

func TestTransmitRejectsOversizePayload(t *testing.T) {
	mock := &MockSPI{}
	d := newTestDevice(mock)

	big := make([]uint8, MaxPayloadSize+1)
	if err := d.Transmit(big); err == nil {
		t.Fatalf("expected error transmitting %d-byte payload, got nil", len(big))
	}
}

func TestHandleRxDoneDeliversCrcStatus(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		irqFlags  uint8
		wantCrcOK bool
	}{
		{name: "crc ok", desc: "RxDone without PayloadCrcErr means the frame is trustworthy", irqFlags: IrqRxDone, wantCrcOK: true},
		{name: "crc bad", desc: "RxDone with PayloadCrcErr set must be surfaced, not silently dropped", irqFlags: IrqRxDone | IrqPayloadCrcErr, wantCrcOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSPI{RxData: []uint8{0x00, 0x02}} // 2-byte payload length
			d := newTestDevice(mock)
			d.mode = ModeRxContinuous

			if err := d.handleRxDone(tt.irqFlags); err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.desc, err)
			}

			select {
			case pkt := <-d.Queue.Rx:
				if pkt.CrcOK != tt.wantCrcOK {
					t.Errorf("%s: CrcOK = %v, want %v", tt.desc, pkt.CrcOK, tt.wantCrcOK)
				}
			default:
				t.Fatalf("%s: expected a packet on the RX queue", tt.desc)
			}
		})
	}
}
