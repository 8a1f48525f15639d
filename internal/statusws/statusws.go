// Package statusws serves a debug websocket that streams gateway and
// forwarder status snapshots, an optional ambient service grounded on the
// pack's gorilla/websocket dependency. Nothing in the forwarder protocol
// itself depends on this: it exists purely for operator visibility.
package statusws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type statsProvider interface {
	GetStatsJSON() ([]byte, error)
}

type connectionProvider interface {
	IsConnected() bool
}

type Server struct {
	addr     string
	core     statsProvider
	fwd      connectionProvider
	upgrader websocket.Upgrader
}

// NewIfEnabled returns nil when STATUS_WS_ENABLE is unset or false.
func NewIfEnabled(core statsProvider, fwd connectionProvider) *Server {
	if os.Getenv("STATUS_WS_ENABLE") != "true" {
		return nil
	}

	addr := os.Getenv("STATUS_WS_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		addr: addr,
		core: core,
		fwd:  fwd,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Run(ctx context.Context) error {
	log := slog.With("func", "Server.Run()", "params", "(context.Context)", "return", "(error)", "package", "statusws")

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	httpServer := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	log.Info("Status websocket listening", "address", s.addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	log := slog.With("func", "Server.handleStatus()", "params", "(http.ResponseWriter, *http.Request)", "return", "(-)", "package", "statusws")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats, err := s.core.GetStatsJSON()
		if err != nil {
			log.Error("failed to marshal stats", "error", err)
			return
		}

		envelope := struct {
			Connected bool            `json:"connected"`
			Stats     json.RawMessage `json:"stats"`
		}{
			Connected: s.fwd.IsConnected(),
			Stats:     stats,
		}

		payload, err := json.Marshal(envelope)
		if err != nil {
			log.Error("failed to marshal envelope", "error", err)
			return
		}

		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug("websocket write failed, client likely disconnected", "error", err)
			return
		}
	}
}
