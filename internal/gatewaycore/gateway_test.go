package gatewaycore

import (
	"context"
	"io"
	"log/slog"
	"sx1276"
	"testing"
	"time"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRxProcessLoopFiltersCrcBad(t *testing.T) {
	tests := []struct {
		name         string
		desc         string
		crcOK        bool
		wantForward  bool
	}{
		{name: "crc ok forwards", desc: "a CRC-valid frame must reach the registered callback", crcOK: true, wantForward: true},
		{name: "crc bad drops", desc: "a CRC-invalid frame must be counted but never reach the callback", crcOK: false, wantForward: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var forwarded bool
			core := New(&sx1276.Device{Queue: sx1276.Queue{Rx: make(chan sx1276.RxPacket, 1)}}, func(sx1276.RxPacket) {
				forwarded = true
			})

			core.rxQueue <- sx1276.RxPacket{CrcOK: tt.crcOK}

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			go core.rxProcessLoop(ctx)

			time.Sleep(20 * time.Millisecond)

			if forwarded != tt.wantForward {
				t.Errorf("%s: forwarded = %v, want %v", tt.desc, forwarded, tt.wantForward)
			}

			stats := core.GetStats()
			if tt.crcOK && stats.RxOK != 1 {
				t.Errorf("%s: RxOK = %d, want 1", tt.desc, stats.RxOK)
			}
			if !tt.crcOK && stats.RxBad != 1 {
				t.Errorf("%s: RxBad = %d, want 1", tt.desc, stats.RxBad)
			}
		})
	}
}

func TestResetStatsPreservesUptime(t *testing.T) {
	core := New(&sx1276.Device{Queue: sx1276.Queue{Rx: make(chan sx1276.RxPacket, 1)}}, nil)

	core.mu.Lock()
	core.running = true
	core.startTime = time.Now().Add(-10 * time.Second)
	core.mu.Unlock()

	core.stats.RxTotal = 5
	core.ResetStats()

	stats := core.GetStats()
	if stats.RxTotal != 0 {
		t.Errorf("ResetStats did not zero RxTotal: got %d", stats.RxTotal)
	}
	if stats.UptimeSec == 0 {
		t.Errorf("ResetStats must not reset the uptime clock")
	}
}
