package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	uplinkQueueSize  = 32
	uplinkBatchMax   = 8
	uplinkBlockDelay = 100 * time.Millisecond
	connectionWindow = 30 * time.Second
)

// UplinkFrame is a received LoRa frame handed to the forwarder for
// PUSH_DATA delivery, mirroring lora_rx_packet_t.
type UplinkFrame struct {
	Payload []byte
	Freq    uint64
	RFChain uint8
	SF      uint8
	BWKHz   uint32
	CR      uint8
	RSSI    int16
	SNR     float32
	Tmst    uint32
	CrcOK   bool
}

// DownlinkRequest is what a PULL_RESP asks the gateway to transmit, handed
// to the configured Scheduler.
type DownlinkRequest struct {
	Payload        []byte
	Freq           uint64
	RFChain        uint8
	Power          int8
	SF             uint8
	BWKHz          uint32
	CR             uint8
	Immediate      bool
	Tmst           uint32
	InvertPolarity bool
}

// Scheduler hands a downlink off to the channel manager's TX queue. Its
// return value, and only its return value, determines whether the
// triggering PULL_RESP is TX_ACK'd as success: a later too-late drop inside
// the channel manager's TX worker happens asynchronously and does not
// retract the ack, matching handle_pull_resp in the reference firmware.
type Scheduler func(DownlinkRequest) error

type Status struct {
	Connected bool
	PushAck   bool
	PullAck   bool
	LatencyMs int64
}

type Stats struct {
	RxTotal     uint64
	RxOK        uint64
	RxForwarded uint64
	TxTotal     uint64
	TxOK        uint64
}

type Config struct {
	ServerAddress    string        `yaml:"server_address" env:"FORWARDER_SERVER_ADDRESS" env-default:"router.eu.thethings.network:1700"`
	GatewayEUI       [8]byte       `yaml:"-"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"FORWARDER_KEEPALIVE_INTERVAL" env-default:"10s"`
	StatInterval      time.Duration `yaml:"stat_interval" env:"FORWARDER_STAT_INTERVAL" env-default:"30s"`
}

// Forwarder implements the gateway side of the Semtech UDP protocol: it
// batches uplinks into PUSH_DATA, answers PULL_RESP with TX_ACK, and infers
// server connectivity solely from PULL_ACK receipt within a 30s window.
type Forwarder struct {
	cfg       Config
	conn      *net.UDPConn
	scheduler Scheduler

	pushToken TokenCounter
	pullToken TokenCounter

	uplinkQueue chan UplinkFrame

	stats Stats

	connected    atomic.Bool
	lastPullAck  atomic.Int64 // unix nanos
	lastPushSent atomic.Int64
	pushAcked    atomic.Bool
	latencyMs    atomic.Int64

	wg sync.WaitGroup
}

func New(cfg Config, scheduler Scheduler) (*Forwarder, error) {
	log := slog.With("func", "New()", "params", "(Config, Scheduler)", "return", "(*Forwarder, error)", "lib", "forwarder")

	if scheduler == nil {
		return nil, fmt.Errorf("a downlink scheduler is required")
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server address %q: %w", cfg.ServerAddress, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial server %q: %w", cfg.ServerAddress, err)
	}

	log.Info("Forwarder dialed network server", "address", cfg.ServerAddress)

	return &Forwarder{
		cfg:         cfg,
		conn:        conn,
		scheduler:   scheduler,
		uplinkQueue: make(chan UplinkFrame, uplinkQueueSize),
	}, nil
}

func (f *Forwarder) Close() error {
	return f.conn.Close()
}

// Start launches the RX loop (server datagrams), the TX loop (uplink
// batching), and the keepalive/stat timers. It returns once ctx is
// cancelled and every goroutine has exited.
func (f *Forwarder) Start(ctx context.Context) {
	log := slog.With("func", "Forwarder.Start()", "params", "(context.Context)", "return", "(-)", "lib", "forwarder")
	log.Info("Forwarder starting")

	f.wg.Add(3)
	go func() { defer f.wg.Done(); f.rxLoop(ctx) }()
	go func() { defer f.wg.Done(); f.txLoop(ctx) }()
	go func() { defer f.wg.Done(); f.keepaliveLoop(ctx) }()

	f.wg.Wait()
	log.Info("Forwarder stopped")
}

// SendUplink enqueues a received frame for the next PUSH_DATA batch. Per
// spec, a full queue drops the frame rather than blocking the radio's event
// loop.
func (f *Forwarder) SendUplink(frame UplinkFrame) {
	log := slog.With("func", "Forwarder.SendUplink()", "params", "(UplinkFrame)", "return", "(-)", "lib", "forwarder")

	select {
	case f.uplinkQueue <- frame:
	default:
		log.Warn("uplink queue full, dropping frame")
	}
}

func (f *Forwarder) GetStatus() Status {
	connected := f.connected.Load() && time.Since(time.Unix(0, f.lastPullAck.Load())) < connectionWindow
	return Status{
		Connected: connected,
		PushAck:   f.pushAcked.Load(),
		PullAck:   f.lastPullAck.Load() != 0,
		LatencyMs: f.latencyMs.Load(),
	}
}

func (f *Forwarder) IsConnected() bool {
	return f.GetStatus().Connected
}

func (f *Forwarder) GetStats() Stats {
	return Stats{
		RxTotal:     atomic.LoadUint64(&f.stats.RxTotal),
		RxOK:        atomic.LoadUint64(&f.stats.RxOK),
		RxForwarded: atomic.LoadUint64(&f.stats.RxForwarded),
		TxTotal:     atomic.LoadUint64(&f.stats.TxTotal),
		TxOK:        atomic.LoadUint64(&f.stats.TxOK),
	}
}

// txLoop implements the uplink-batching policy: wait up to 100ms for the
// first frame of a batch, then greedily drain whatever else has queued (up
// to 8 frames) before sending PUSH_DATA.
func (f *Forwarder) txLoop(ctx context.Context) {
	log := slog.With("func", "Forwarder.txLoop()", "params", "(context.Context)", "return", "(-)", "lib", "forwarder")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var batch []UplinkFrame
		select {
		case first := <-f.uplinkQueue:
			batch = append(batch, first)
		case <-time.After(uplinkBlockDelay):
			continue
		}
	drain:
		for len(batch) < uplinkBatchMax {
			select {
			case frame := <-f.uplinkQueue:
				batch = append(batch, frame)
			default:
				break drain
			}
		}

		if err := f.sendPushData(batch); err != nil {
			log.Error("failed to send PUSH_DATA", "error", err)
		}
	}
}

func (f *Forwarder) sendPushData(batch []UplinkFrame) error {
	rxpk := make([]RXPK, 0, len(batch))
	for _, frame := range batch {
		atomic.AddUint64(&f.stats.RxTotal, 1)
		stat := int8(-1)
		if frame.CrcOK {
			stat = 1
			atomic.AddUint64(&f.stats.RxOK, 1)
			atomic.AddUint64(&f.stats.RxForwarded, 1)
		}
		rxpk = append(rxpk, RXPK{
			Tmst: frame.Tmst,
			Chan: frame.RFChain,
			RFCh: frame.RFChain,
			Freq: float64(frame.Freq) / 1e6,
			Stat: stat,
			Modu: "LORA",
			Datr: DatrString(frame.SF, frame.BWKHz),
			Codr: CodrString(frame.CR),
			RSSI: frame.RSSI,
			LSNR: frame.SNR,
			Size: uint16(len(frame.Payload)),
			Data: EncodeData(frame.Payload),
		})
	}

	body, err := json.Marshal(PushDataBody{RXPK: rxpk})
	if err != nil {
		return fmt.Errorf("failed to marshal rxpk body: %w", err)
	}

	token := f.pushToken.Next()
	header := Header{Version: ProtocolVersion, Token: token, Type: PushData, GwEUI: f.cfg.GatewayEUI, HasEUI: true}
	datagram := append(header.Encode(), body...)

	f.lastPushSent.Store(time.Now().UnixNano())
	if _, err := f.conn.Write(datagram); err != nil {
		return fmt.Errorf("failed to write PUSH_DATA: %w", err)
	}
	return nil
}

func (f *Forwarder) sendPullData() error {
	token := f.pullToken.Next()
	header := Header{Version: ProtocolVersion, Token: token, Type: PullData, GwEUI: f.cfg.GatewayEUI, HasEUI: true}
	if _, err := f.conn.Write(header.Encode()); err != nil {
		return fmt.Errorf("failed to write PULL_DATA: %w", err)
	}
	return nil
}

func (f *Forwarder) sendTxAck(token uint16, errText string) error {
	header := Header{Version: ProtocolVersion, Token: token, Type: TxAck, GwEUI: f.cfg.GatewayEUI, HasEUI: true}
	datagram := header.Encode()

	if errText != "" {
		body, err := json.Marshal(struct {
			TxpkAck struct {
				Error string `json:"error"`
			} `json:"txpk_ack"`
		}{TxpkAck: struct {
			Error string `json:"error"`
		}{Error: errText}})
		if err == nil {
			datagram = append(datagram, body...)
		}
	}

	_, err := f.conn.Write(datagram)
	return err
}

// rxLoop reads datagrams from the network server: PUSH_ACK, PULL_ACK and
// PULL_RESP.
func (f *Forwarder) rxLoop(ctx context.Context) {
	log := slog.With("func", "Forwarder.rxLoop()", "params", "(context.Context)", "return", "(-)", "lib", "forwarder")

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := f.conn.Read(buf)
		if err != nil {
			continue // deadline or transient error, loop checks ctx next iteration
		}

		header, offset, err := DecodeHeader(buf[:n])
		if err != nil {
			log.Warn("dropping malformed datagram", "error", err)
			continue
		}

		switch header.Type {
		case PushAck:
			f.pushAcked.Store(true)
			if sent := f.lastPushSent.Load(); sent != 0 {
				f.latencyMs.Store((time.Now().UnixNano() - sent) / int64(time.Millisecond))
			}
		case PullAck:
			// Connection liveness is inferred ONLY from PULL_ACK.
			f.connected.Store(true)
			f.lastPullAck.Store(time.Now().UnixNano())
		case PullResp:
			f.handlePullResp(header.Token, buf[offset:n])
		default:
			log.Warn("unexpected message type from server", "type", header.Type)
		}
	}
}

func (f *Forwarder) handlePullResp(token uint16, body []byte) {
	log := slog.With("func", "Forwarder.handlePullResp()", "params", "(uint16, []byte)", "return", "(-)", "lib", "forwarder")

	var payload PullRespBody
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("malformed PULL_RESP body", "error", err)
		f.sendTxAck(token, ErrInvalidJSON)
		return
	}

	if payload.TXPK == nil {
		log.Error("PULL_RESP missing txpk")
		f.sendTxAck(token, ErrMissingTxpk)
		return
	}

	data, err := DecodeData(payload.TXPK.Data)
	if err != nil {
		log.Error("malformed txpk data", "error", err)
		f.sendTxAck(token, ErrInvalidJSON)
		return
	}

	sf, bwKHz := ParseDatr(payload.TXPK.Datr)
	req := DownlinkRequest{
		Payload:        data,
		Freq:           uint64(math.Round(payload.TXPK.Freq * 1e6)),
		RFChain:        payload.TXPK.RFCh,
		Power:          payload.TXPK.Powe,
		SF:             sf,
		BWKHz:          bwKHz,
		CR:             ParseCodr(payload.TXPK.Codr),
		Immediate:      payload.TXPK.Imme,
		Tmst:           payload.TXPK.Tmst,
		InvertPolarity: payload.TXPK.Ipol,
	}

	atomic.AddUint64(&f.stats.TxTotal, 1)

	// Ack success/failure is determined solely by whether the scheduler
	// accepted the frame onto the TX queue, never by what happens to it
	// afterward inside the channel manager.
	if err := f.scheduler(req); err != nil {
		log.Warn("downlink rejected", "error", err)
		f.sendTxAck(token, ErrTxFailed)
		return
	}

	atomic.AddUint64(&f.stats.TxOK, 1)
	if err := f.sendTxAck(token, ""); err != nil {
		log.Error("failed to send TX_ACK", "error", err)
	}
}

// keepaliveLoop sends PULL_DATA on KeepaliveInterval and a status report on
// StatInterval. The two cadences are independent timers, matching
// keepalive_callback/stat_callback in the reference firmware.
func (f *Forwarder) keepaliveLoop(ctx context.Context) {
	log := slog.With("func", "Forwarder.keepaliveLoop()", "params", "(context.Context)", "return", "(-)", "lib", "forwarder")

	keepalive := time.NewTicker(f.cfg.KeepaliveInterval)
	stat := time.NewTicker(f.cfg.StatInterval)
	defer keepalive.Stop()
	defer stat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := f.sendPullData(); err != nil {
				log.Error("failed to send PULL_DATA", "error", err)
			}
		case <-stat.C:
			if err := f.sendStat(); err != nil {
				log.Error("failed to send stat", "error", err)
			}
		}
	}
}

func (f *Forwarder) sendStat() error {
	stats := f.GetStats()

	var ackr float32
	if stats.TxTotal > 0 {
		ackr = 100 * float32(stats.TxOK) / float32(stats.TxTotal)
	}

	body, err := json.Marshal(StatBody{Stat: Stat{
		Time: time.Now().UTC().Format("2006-01-02 15:04:05 GMT"),
		RxNb: uint32(stats.RxTotal),
		RxOK: uint32(stats.RxOK),
		RxFW: uint32(stats.RxForwarded),
		Ackr: ackr,
		DwNb: uint32(stats.TxTotal),
		TxNb: uint32(stats.TxOK),
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal stat body: %w", err)
	}

	token := f.pushToken.Next()
	header := Header{Version: ProtocolVersion, Token: token, Type: PushData, GwEUI: f.cfg.GatewayEUI, HasEUI: true}
	datagram := append(header.Encode(), body...)

	_, err = f.conn.Write(datagram)
	return err
}
