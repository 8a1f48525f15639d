package forwarder

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"
)

func newLoopbackForwarder(t *testing.T, scheduler Scheduler) (*Forwarder, *net.UDPConn) {
	t.Helper()

	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to start loopback server: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	f, err := New(Config{
		ServerAddress:     server.LocalAddr().String(),
		GatewayEUI:        [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		KeepaliveInterval: time.Hour,
		StatInterval:      time.Hour,
	}, scheduler)
	if err != nil {
		t.Fatalf("failed to construct forwarder: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	return f, server
}

func TestHandlePullRespAckReflectsSchedulerOutcome(t *testing.T) {
	tests := []struct {
		name        string
		desc        string
		schedulerErr error
		wantTxOK    uint64
	}{
		{name: "enqueue accepted", desc: "ack success depends only on enqueue succeeding, per handlePullResp semantics", schedulerErr: nil, wantTxOK: 1},
		{name: "enqueue rejected", desc: "a full TX queue must produce a failed ack, not a silent drop", schedulerErr: fmt.Errorf("tx queue full"), wantTxOK: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, server := newLoopbackForwarder(t, func(DownlinkRequest) error { return tt.schedulerErr })

			body, _ := json.Marshal(PullRespBody{TXPK: &TXPK{
				Freq: 923.3,
				Data: EncodeData([]byte{0xDE, 0xAD}),
			}})

			done := make(chan struct{})
			go func() {
				buf := make([]byte, 512)
				server.SetReadDeadline(time.Now().Add(2 * time.Second))
				server.ReadFromUDP(buf)
				close(done)
			}()

			f.handlePullResp(0x42, body)

			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatalf("%s: never observed a TX_ACK on the wire", tt.desc)
			}

			if got := f.GetStats().TxOK; got != tt.wantTxOK {
				t.Errorf("%s: TxOK = %d, want %d", tt.desc, got, tt.wantTxOK)
			}
		})
	}
}

func TestHandlePullRespRejectsMissingTxpk(t *testing.T) {
	f, server := newLoopbackForwarder(t, func(DownlinkRequest) error {
		t.Fatalf("scheduler must not be invoked when txpk is missing")
		return nil
	})

	body, _ := json.Marshal(struct{}{}) // no "txpk" key at all

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 512)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := server.ReadFromUDP(buf)
		if err == nil {
			got <- buf[:n]
		}
	}()

	f.handlePullResp(0x99, body)

	select {
	case datagram := <-got:
		if len(datagram) <= 12 {
			t.Fatalf("expected a TX_ACK body carrying MISSING_TXPK, got a bare header")
		}
		var ack struct {
			TxpkAck struct {
				Error string `json:"error"`
			} `json:"txpk_ack"`
		}
		if err := json.Unmarshal(datagram[12:], &ack); err != nil {
			t.Fatalf("failed to parse TX_ACK body: %v", err)
		}
		if ack.TxpkAck.Error != ErrMissingTxpk {
			t.Errorf("txpk_ack.error = %q, want %q", ack.TxpkAck.Error, ErrMissingTxpk)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("never observed a TX_ACK on the wire")
	}

	if got := f.GetStats().TxTotal; got != 0 {
		t.Errorf("TxTotal = %d, want 0: a missing txpk must not count as an attempted transmission", got)
	}
}

func TestConnectionInferredOnlyFromPullAck(t *testing.T) {
	f, _ := newLoopbackForwarder(t, func(DownlinkRequest) error { return nil })

	if f.IsConnected() {
		t.Fatalf("a fresh forwarder must not report connected before any PULL_ACK")
	}

	f.pushAcked.Store(true)
	if f.IsConnected() {
		t.Errorf("PUSH_ACK alone must not mark the forwarder connected")
	}

	f.connected.Store(true)
	f.lastPullAck.Store(time.Now().UnixNano())
	if !f.IsConnected() {
		t.Errorf("a recent PULL_ACK must mark the forwarder connected")
	}
}

func TestSendUplinkDropsWhenQueueFull(t *testing.T) {
	f, _ := newLoopbackForwarder(t, func(DownlinkRequest) error { return nil })

	for i := 0; i < uplinkQueueSize; i++ {
		f.SendUplink(UplinkFrame{Payload: []byte{byte(i)}})
	}
	// one more must be dropped, not block
	done := make(chan struct{})
	go func() {
		f.SendUplink(UplinkFrame{Payload: []byte{0xFF}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SendUplink blocked on a full queue instead of dropping")
	}
}
