// Package mqttstat publishes periodic gateway statistics to an MQTT broker,
// an optional ambient service the forwarder protocol itself never needs.
// Grounded on apps/wbs's paho.mqtt.golang MQTT client idiom.
package mqttstat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// statsProvider is satisfied by gatewaycore.Core's GetStatsJSON method; kept
// as an interface here so this package doesn't need to import gatewaycore.
type statsProvider interface {
	GetStatsJSON() ([]byte, error)
}

type Client struct {
	mc       mqtt.Client
	topic    string
	interval time.Duration
	provider statsProvider
}

// NewIfEnabled returns nil when MQTT_STATS_ENABLE is unset or false, so
// cmd/gateway can unconditionally wire it into its worker group.
func NewIfEnabled(ctx context.Context, provider statsProvider) *Client {
	if os.Getenv("MQTT_STATS_ENABLE") != "true" {
		return nil
	}

	broker := os.Getenv("MQTT_BROKER_ADDRESS")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	topic := os.Getenv("MQTT_STATS_TOPIC")
	if topic == "" {
		topic = "gateway/stats"
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("au915-lora-gateway").SetAutoReconnect(true)
	mc := mqtt.NewClient(opts)

	return &Client{mc: mc, topic: topic, interval: 30 * time.Second, provider: provider}
}

func (c *Client) Run(ctx context.Context) error {
	log := slog.With("func", "Client.Run()", "params", "(context.Context)", "return", "(error)", "package", "mqttstat")

	if token := c.mc.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer c.mc.Disconnect(250)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, err := c.provider.GetStatsJSON()
			if err != nil {
				log.Error("failed to marshal stats", "error", err)
				continue
			}
			if token := c.mc.Publish(c.topic, 0, false, payload); token.Wait() && token.Error() != nil {
				log.Error("failed to publish stats", "error", token.Error())
			}
		}
	}
}

// MarshalStats is a tiny helper so callers with a concrete Stats struct can
// satisfy statsProvider with one line: GetStatsJSON() ([]byte, error) {
// return mqttstat.MarshalStats(c.GetStats()) }.
func MarshalStats(v any) ([]byte, error) {
	return json.Marshal(v)
}
