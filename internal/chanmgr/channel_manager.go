// Package chanmgr implements the dual-radio scheduler: one SX1276 runs
// continuous RX with periodic channel hopping, the other is dedicated to
// scheduled TX. Grounded on channel_manager.c from the reference firmware.
package chanmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sx1276"
)

const (
	txQueueSize = 16 // matches GATEWAY_TX_QUEUE_SIZE

	// Thresholds the reference firmware's tx_task applies to the signed
	// microsecond delay between "now" and a request's target timestamp.
	lateDropThreshold = -100 * time.Millisecond // more than this late: drop, count as collision
	farFutureCeiling  = 5 * time.Second         // below this, spin-wait; at or above, transmit now without waiting

	txDoneWatchdog = 5 * time.Second // bound on how long Transmit may occupy the TX radio
)

// TxRequest is a scheduled transmission, timestamped against the gateway's
// own free-running microsecond clock (see GatewayClock).
type TxRequest struct {
	Payload        []byte
	Freq           uint64
	Power          int8
	SF             uint8
	BWKHz          uint32
	CR             uint8
	Immediate      bool
	TxTimestamp    uint32
	InvertPolarity bool
}

// Channel describes one of the gateway's configured uplink channels, used
// by the RX radio's hop sequence.
type Channel struct {
	Frequency uint64
	SFMin     uint8
	SFMax     uint8
	Enabled   bool
}

type Stats struct {
	TxTotal     uint64
	TxOK        uint64
	TxFail      uint64
	TxCollision uint64
}

// ChannelManager owns the RX radio (continuous, hopping) and the TX radio
// (idle until a scheduled transmission is due).
type ChannelManager struct {
	rx *sx1276.Device
	tx *sx1276.Device

	channels       []Channel
	currentChannel atomic.Int32
	hopInterval    time.Duration

	txQueue chan TxRequest
	stats   Stats

	mu sync.Mutex
}

type Config struct {
	HopInterval time.Duration `yaml:"hop_interval" env:"CHANMGR_HOP_INTERVAL" env-default:"30s"`
}

func New(rx, tx *sx1276.Device, channels []Channel, cfg Config) (*ChannelManager, error) {
	if rx == nil || tx == nil {
		return nil, fmt.Errorf("both RX and TX radios are required")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	if cfg.HopInterval <= 0 {
		cfg.HopInterval = 30 * time.Second
	}

	return &ChannelManager{
		rx:          rx,
		tx:          tx,
		channels:    channels,
		hopInterval: cfg.HopInterval,
		txQueue:     make(chan TxRequest, txQueueSize),
	}, nil
}

// Start brings both radios into their steady-state mode and runs the hop
// timer and TX worker until ctx is cancelled.
func (c *ChannelManager) Start(ctx context.Context) error {
	log := slog.With("func", "ChannelManager.Start()", "params", "(context.Context)", "return", "(error)", "lib", "chanmgr")
	log.Info("Channel manager starting")

	if err := c.rx.ApplyConfig(); err != nil {
		return fmt.Errorf("failed to apply RX radio config: %w", err)
	}
	if err := c.rx.SetFrequency(c.channels[0].Frequency); err != nil {
		return fmt.Errorf("failed to set initial RX frequency: %w", err)
	}
	if err := c.rx.StartRx(); err != nil {
		return fmt.Errorf("failed to start RX radio: %w", err)
	}
	if err := c.tx.ApplyConfig(); err != nil {
		return fmt.Errorf("failed to apply TX radio config: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.rx.Run() }()
	go func() { defer wg.Done(); c.hopLoop(ctx) }()
	go func() { defer wg.Done(); c.txWorker(ctx) }()

	<-ctx.Done()
	c.rx.Close()
	c.tx.Close()
	wg.Wait()

	log.Info("Channel manager stopped")
	return nil
}

// ScheduleTx enqueues a downlink request onto the TX radio's queue. This is
// the Scheduler the forwarder protocol engine calls from handlePullResp;
// its error return is what determines TX_ACK success.
func (c *ChannelManager) ScheduleTx(req TxRequest) error {
	select {
	case c.txQueue <- req:
		return nil
	default:
		return fmt.Errorf("TX queue full")
	}
}

func (c *ChannelManager) GetStats() Stats {
	return Stats{
		TxTotal:     atomic.LoadUint64(&c.stats.TxTotal),
		TxOK:        atomic.LoadUint64(&c.stats.TxOK),
		TxFail:      atomic.LoadUint64(&c.stats.TxFail),
		TxCollision: atomic.LoadUint64(&c.stats.TxCollision),
	}
}

func (c *ChannelManager) CurrentChannel() int {
	return int(c.currentChannel.Load())
}

// hopLoop cycles the RX radio across the configured channel list so a
// single receiver eventually covers every uplink channel, the same
// trade-off the reference firmware's single/dual-radio design makes in
// place of a multi-channel concentrator.
func (c *ChannelManager) hopLoop(ctx context.Context) {
	log := slog.With("func", "ChannelManager.hopLoop()", "params", "(context.Context)", "return", "(-)", "lib", "chanmgr")

	ticker := time.NewTicker(c.hopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := (c.currentChannel.Load() + 1) % int32(len(c.channels))
			c.currentChannel.Store(next)

			ch := c.channels[next]
			if !ch.Enabled {
				continue
			}
			if err := c.rx.SetFrequency(ch.Frequency); err != nil {
				log.Error("failed to hop RX frequency", "channel", next, "error", err)
			}
		}
	}
}

// txWorker drains scheduled transmissions, honoring their target timestamp
// against the gateway's free-running clock: too late is dropped as a
// collision; a delay inside the wait window is spun out before keying the
// radio; anything outside it (including far-future) transmits at once.
func (c *ChannelManager) txWorker(ctx context.Context) {
	log := slog.With("func", "ChannelManager.txWorker()", "params", "(context.Context)", "return", "(-)", "lib", "chanmgr")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.txQueue:
			atomic.AddUint64(&c.stats.TxTotal, 1)

			if !req.Immediate {
				delay := timestampDelay(req.TxTimestamp, GatewayClock())

				if delay < lateDropThreshold {
					log.Warn("dropping late TX request", "delay", delay)
					atomic.AddUint64(&c.stats.TxCollision, 1)
					continue
				}
				// A delay of 0..farFutureCeiling is spin-waited out. Anything
				// outside that window (including >= farFutureCeiling) falls
				// through and transmits immediately without waiting, matching
				// the reference firmware's tx_task: only the -100ms..5s
				// window ever calls vTaskDelay.
				if delay > 0 && delay < farFutureCeiling {
					time.Sleep(delay)
				}
			}

			if err := c.tx.SetFrequency(req.Freq); err != nil {
				log.Error("failed to set TX frequency", "error", err)
				atomic.AddUint64(&c.stats.TxFail, 1)
				continue
			}
			if err := c.tx.SetTxPower(req.Power); err != nil {
				log.Error("failed to set TX power", "error", err)
			}
			if err := c.tx.SetSpreadingFactor(req.SF); err != nil {
				log.Error("failed to set TX spreading factor", "error", err)
			}
			if req.BWKHz > 0 {
				if err := c.tx.SetBandwidth(bandwidthFromKHz(req.BWKHz)); err != nil {
					log.Error("failed to set TX bandwidth", "error", err)
				}
			}
			if req.CR > 0 {
				if err := c.tx.SetCodingRate(sx1276.CodingRate(req.CR)); err != nil {
					log.Error("failed to set TX coding rate", "error", err)
				}
			}
			if err := c.tx.SetInvertIQ(req.InvertPolarity); err != nil {
				log.Error("failed to set TX IQ polarity", "error", err)
			}

			if err := c.tx.Transmit(req.Payload); err != nil {
				log.Error("transmit failed", "error", err)
				atomic.AddUint64(&c.stats.TxFail, 1)
				continue
			}

			if !c.tx.WaitForIRQ(txDoneWatchdog) {
				log.Error("TX_DONE watchdog expired")
				atomic.AddUint64(&c.stats.TxFail, 1)
				continue
			}
			if err := c.tx.StopRx(); err != nil {
				log.Warn("failed to return TX radio to standby", "error", err)
			}

			atomic.AddUint64(&c.stats.TxOK, 1)
		}
	}
}

// timestampDelay returns target-now as a signed duration, correctly
// handling the wraparound of the 32-bit microsecond clock: the subtraction
// is done in the unsigned domain and then reinterpreted as signed, so a
// target that wrapped around still produces the right small delay.
func timestampDelay(target, now uint32) time.Duration {
	diff := int32(target - now)
	return time.Duration(diff) * time.Microsecond
}

// GatewayClock returns the gateway's free-running microsecond timestamp,
// the same 32-bit wrapping clock lora_gateway_get_timestamp exposes.
func GatewayClock() uint32 {
	return uint32(time.Now().UnixMicro())
}

// bandwidthFromKHz maps a downlink's rxpk/txpk bandwidth in kHz to the
// SX1276 register encoding. Unrecognized values fall back to 125kHz.
func bandwidthFromKHz(khz uint32) sx1276.Bandwidth {
	switch khz {
	case 250:
		return sx1276.BW250kHz
	case 500:
		return sx1276.BW500kHz
	default:
		return sx1276.BW125kHz
	}
}
