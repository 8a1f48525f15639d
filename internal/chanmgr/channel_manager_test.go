package chanmgr

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTimestampDelay(t *testing.T) {
	tests := []struct {
		name   string
		desc   string
		target uint32
		now    uint32
		want   time.Duration
	}{
		{name: "future by 1ms", desc: "a target 1ms ahead should spin-wait exactly that long", target: 1000, now: 0, want: time.Millisecond},
		{name: "past by 50us", desc: "a target just behind now is slightly late but within grace", target: 0, now: 50, want: -50 * time.Microsecond},
		{name: "wraps around 32-bit clock", desc: "a target just after the clock wraps must still read as a small positive delay", target: 100, now: ^uint32(0) - 99, want: 200 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timestampDelay(tt.target, tt.now)
			if got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestScheduleTxRejectsWhenQueueFull(t *testing.T) {
	cm := &ChannelManager{txQueue: make(chan TxRequest, 2)}

	for i := 0; i < 2; i++ {
		if err := cm.ScheduleTx(TxRequest{}); err != nil {
			t.Fatalf("unexpected error filling queue: %v", err)
		}
	}

	if err := cm.ScheduleTx(TxRequest{}); err == nil {
		t.Errorf("expected an error once the TX queue is full, got nil")
	}
}
