package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/Regeneric/au915-lora-gateway/internal/bandplan"
	"github.com/Regeneric/au915-lora-gateway/internal/chanmgr"
	"github.com/Regeneric/au915-lora-gateway/internal/config"
	"github.com/Regeneric/au915-lora-gateway/internal/gatewaycore"
	"github.com/Regeneric/au915-lora-gateway/internal/mqttstat"
	"github.com/Regeneric/au915-lora-gateway/internal/statusws"

	"forwarder"
	"sx1276"
)

func main() {
	// ************************************************************************
	// = Platform Setup ===
	// ------------------------------------------------------------------------
	_ = godotenv.Load() // optional .env, missing file is not an error

	if _, err := host.Init(); err != nil {
		panic(err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()
	// ------------------------------------------------------------------------

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.GatewayEUI == "" {
		slog.Warn("gateway_eui not set in config, refusing to guess a MAC-derived one at this layer; set it explicitly")
		os.Exit(1)
	}
	eui, err := cfg.EUIBytes()
	if err != nil {
		slog.Error("invalid gateway_eui", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigChan; cancel() }()

	// ************************************************************************
	// = Radios ===
	// ------------------------------------------------------------------------
	spiPort, err := spireg.Open("")
	if err != nil {
		slog.Error("failed to open SPI bus", "error", err)
		os.Exit(1)
	}
	spiConn, err := spiPort.Connect(10_000_000, 0, 8)
	if err != nil {
		slog.Error("failed to configure SPI connection", "error", err)
		os.Exit(1)
	}

	radios := make([]*sx1276.Device, 2)
	for i, rc := range cfg.Radios {
		radioCfg := rc.SX
		if radioCfg.Pins == nil {
			slog.Error("radio has no pins configured", "index", i)
			os.Exit(1)
		}
		dev, err := sx1276.New(spiConn, &radioCfg)
		if err != nil {
			slog.Error("failed to initialize radio", "index", i, "error", err)
			os.Exit(1)
		}
		radios[i] = dev
	}

	var rxRadio, txRadio *sx1276.Device
	for i, rc := range cfg.Radios {
		switch rc.Role {
		case config.RoleRx:
			rxRadio = radios[i]
		case config.RoleTx:
			txRadio = radios[i]
		}
	}
	if rxRadio == nil || txRadio == nil {
		slog.Error("config must designate exactly one rx radio and one tx radio")
		os.Exit(1)
	}
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Channel plan ===
	// ------------------------------------------------------------------------
	channels := make([]chanmgr.Channel, len(cfg.ChannelManager.Channels))
	for i, ch := range cfg.ChannelManager.Channels {
		freq, err := bandplan.UplinkFrequency(bandplan.Subband(cfg.ChannelManager.Subband), uint8(i))
		if err != nil {
			slog.Error("invalid channel plan", "channel", i, "error", err)
			os.Exit(1)
		}
		channels[i] = chanmgr.Channel{Frequency: freq, SFMin: ch.SFMin, SFMax: ch.SFMax, Enabled: ch.Enabled}
	}

	hopInterval, err := time.ParseDuration(cfg.ChannelManager.HopInterval)
	if err != nil {
		slog.Error("invalid channel_manager.hop_interval", "value", cfg.ChannelManager.HopInterval, "error", err)
		os.Exit(1)
	}

	cm, err := chanmgr.New(rxRadio, txRadio, channels, chanmgr.Config{HopInterval: hopInterval})
	if err != nil {
		slog.Error("failed to construct channel manager", "error", err)
		os.Exit(1)
	}
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Forwarder ===
	// ------------------------------------------------------------------------
	keepaliveInterval, err := time.ParseDuration(cfg.Forwarder.KeepaliveInterval)
	if err != nil {
		slog.Error("invalid forwarder.keepalive_interval", "value", cfg.Forwarder.KeepaliveInterval, "error", err)
		os.Exit(1)
	}
	statInterval, err := time.ParseDuration(cfg.Forwarder.StatInterval)
	if err != nil {
		slog.Error("invalid forwarder.stat_interval", "value", cfg.Forwarder.StatInterval, "error", err)
		os.Exit(1)
	}

	fwd, err := forwarder.New(forwarder.Config{
		ServerAddress:     cfg.Forwarder.ServerAddress,
		GatewayEUI:        eui,
		KeepaliveInterval: keepaliveInterval,
		StatInterval:      statInterval,
	}, func(req forwarder.DownlinkRequest) error {
		return cm.ScheduleTx(chanmgr.TxRequest{
			Payload:        req.Payload,
			Freq:           req.Freq,
			Power:          req.Power,
			SF:             req.SF,
			BWKHz:          req.BWKHz,
			CR:             req.CR,
			Immediate:      req.Immediate,
			TxTimestamp:    req.Tmst,
			InvertPolarity: req.InvertPolarity,
		})
	})
	if err != nil {
		slog.Error("failed to construct forwarder", "error", err)
		os.Exit(1)
	}
	defer fwd.Close()

	core := gatewaycore.New(rxRadio, func(pkt sx1276.RxPacket) {
		fwd.SendUplink(forwarder.UplinkFrame{
			Payload: pkt.Payload,
			Freq:    pkt.Freq,
			SF:      pkt.SF,
			BWKHz:   pkt.BWKHz,
			CR:      pkt.CR,
			RSSI:    pkt.Rssi,
			SNR:     pkt.Snr,
			Tmst:    pkt.Timestamp,
			CrcOK:   pkt.CrcOK,
		})
	})
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Optional ambient services ===
	// ------------------------------------------------------------------------
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error { return cm.Start(gctx) })
	group.Go(func() error { core.Start(gctx); return nil })
	group.Go(func() error { fwd.Start(gctx); return nil })

	stats := &combinedStats{core: core, cm: cm}

	if mc := mqttstat.NewIfEnabled(gctx, stats); mc != nil {
		group.Go(func() error { return mc.Run(gctx) })
	}
	if sv := statusws.NewIfEnabled(stats, fwd); sv != nil {
		group.Go(func() error { return sv.Run(gctx) })
	}
	// ------------------------------------------------------------------------

	if err := group.Wait(); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

// combinedStats merges gatewaycore's RX counters with chanmgr's TX
// counters into one report for the optional ambient services, since the
// reference firmware's gateway_stats_t covers both halves from a single
// struct.
type combinedStats struct {
	core *gatewaycore.Core
	cm   *chanmgr.ChannelManager
}

func (s *combinedStats) GetStatsJSON() ([]byte, error) {
	rx := s.core.GetStats()
	tx := s.cm.GetStats()

	return json.Marshal(struct {
		gatewaycore.Stats
		chanmgr.Stats
	}{rx, tx})
}
