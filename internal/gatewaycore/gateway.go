// Package gatewaycore ties the channel manager's RX feed to a registered
// callback, filtering out CRC-failed frames and keeping the cumulative
// packet counters a forwarder's stat report needs. Grounded on
// lora_gateway.c/lora_gateway.h's rx_process_task and gateway_stats_t.
package gatewaycore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sx1276"
)

const rxQueueSize = 32 // matches GATEWAY_RX_QUEUE_SIZE

// Stats mirrors the RX half of gateway_stats_t; the TX half is owned by
// chanmgr.ChannelManager, which runs the only goroutine that can observe a
// transmission's outcome. cmd/gateway combines both for reporting.
type Stats struct {
	RxTotal     uint64
	RxOK        uint64
	RxBad       uint64
	RxForwarded uint64
	UptimeSec   uint64
	LastRxUnix  int64
}

// RxCallback receives every CRC-valid frame the RX radio produces.
type RxCallback func(sx1276.RxPacket)

// Core owns the gateway-level RX queue that decouples the radio's
// interrupt event loop from whatever the forwarder does with a frame -
// a second, distinct queue from the forwarder's uplink queue, both
// present in and grounded on the reference firmware's lora_gateway.c and
// packet_forwarder.c (rx_queue and uplink_queue respectively), bridged
// here by the registered callback exactly as gateway_config_t.rx_callback
// bridges them in the original.
type Core struct {
	rx       *sx1276.Device
	rxQueue  chan sx1276.RxPacket
	callback RxCallback

	stats     Stats
	startTime time.Time

	mu      sync.Mutex
	running bool
}

func New(rx *sx1276.Device, callback RxCallback) *Core {
	return &Core{
		rx:       rx,
		rxQueue:  make(chan sx1276.RxPacket, rxQueueSize),
		callback: callback,
	}
}

// Start feeds the RX radio's queue into the gateway's own rx_queue and
// runs rxProcessLoop until ctx is cancelled.
func (c *Core) Start(ctx context.Context) {
	log := slog.With("func", "Core.Start()", "params", "(context.Context)", "return", "(-)", "lib", "gatewaycore")
	log.Info("Gateway core starting")

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.rxHandler(ctx) }()
	go func() { defer wg.Done(); c.rxProcessLoop(ctx) }()
	wg.Wait()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	log.Info("Gateway core stopped")
}

func (c *Core) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// rxHandler is the producer side: it drains the radio driver's own queue
// (filled by its interrupt event loop) and forwards into the gateway-core
// queue, dropping on overflow rather than blocking the radio.
func (c *Core) rxHandler(ctx context.Context) {
	log := slog.With("func", "Core.rxHandler()", "params", "(context.Context)", "return", "(-)", "lib", "gatewaycore")

	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-c.rx.Queue.Rx:
			atomic.AddUint64(&c.stats.RxTotal, 1)
			select {
			case c.rxQueue <- pkt:
			default:
				log.Warn("gateway RX queue full, dropping packet")
			}
		}
	}
}

// rxProcessLoop invokes the registered callback only for CRC-OK packets,
// matching rx_process_task's behavior exactly.
func (c *Core) rxProcessLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-c.rxQueue:
			if !pkt.CrcOK {
				atomic.AddUint64(&c.stats.RxBad, 1)
				continue
			}
			atomic.AddUint64(&c.stats.RxOK, 1)
			atomic.StoreInt64(&c.stats.LastRxUnix, time.Now().Unix())

			if c.callback != nil {
				atomic.AddUint64(&c.stats.RxForwarded, 1)
				c.callback(pkt)
			}
		}
	}
}

// GetStats returns a snapshot of the running counters plus uptime.
func (c *Core) GetStats() Stats {
	c.mu.Lock()
	uptime := uint64(0)
	if c.running {
		uptime = uint64(time.Since(c.startTime).Seconds())
	}
	c.mu.Unlock()

	return Stats{
		RxTotal:     atomic.LoadUint64(&c.stats.RxTotal),
		RxOK:        atomic.LoadUint64(&c.stats.RxOK),
		RxBad:       atomic.LoadUint64(&c.stats.RxBad),
		RxForwarded: atomic.LoadUint64(&c.stats.RxForwarded),
		UptimeSec:   uptime,
		LastRxUnix:  atomic.LoadInt64(&c.stats.LastRxUnix),
	}
}

// GetStatsJSON satisfies mqttstat's statsProvider interface.
func (c *Core) GetStatsJSON() ([]byte, error) {
	return json.Marshal(c.GetStats())
}

// ResetStats zeroes the counters but preserves the running start time, so
// uptime keeps counting across a reset exactly as the reference firmware's
// lora_gateway_reset_stats does.
func (c *Core) ResetStats() {
	atomic.StoreUint64(&c.stats.RxTotal, 0)
	atomic.StoreUint64(&c.stats.RxOK, 0)
	atomic.StoreUint64(&c.stats.RxBad, 0)
	atomic.StoreUint64(&c.stats.RxForwarded, 0)
	atomic.StoreInt64(&c.stats.LastRxUnix, 0)
}
