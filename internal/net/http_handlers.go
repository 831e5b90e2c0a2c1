package net

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Learath2/libtw2/internal/hub"
	"github.com/Learath2/libtw2/internal/net/ws"
	"github.com/Learath2/libtw2/internal/observability"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/snap"
	"github.com/Learath2/libtw2/internal/telemetry"
	"github.com/Learath2/libtw2/logging"
)

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Observability observability.Config
	// Gatherer serves /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
	// RouterStats reports logging router counters in diagnostics. Optional.
	RouterStats func() logging.RouterStats
}

type historyWindow struct {
	Size   int       `json:"size"`
	Oldest snap.Tick `json:"oldest"`
	Newest snap.Tick `json:"newest"`
}

type diagnostics struct {
	Status     string                  `json:"status"`
	ServerTime int64                   `json:"serverTime"`
	Tick       snap.Tick               `json:"tick"`
	TickRate   int                     `json:"tickRate"`
	History    historyWindow           `json:"history"`
	Peers      []replication.PeerStats `json:"peers"`
	Logging    *logging.RouterStats    `json:"logging,omitempty"`
}

func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		size, oldest, newest := h.Storage().Window()
		payload := diagnostics{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       h.Tick(),
			TickRate:   h.TickRate(),
			History:    historyWindow{Size: size, Oldest: oldest, Newest: newest},
			Peers:      h.Manager().AllStats(),
		}
		if cfg.RouterStats != nil {
			stats := cfg.RouterStats()
			payload.Logging = &stats
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/ws", ws.NewHandler(h, ws.HandlerConfig{Logger: cfg.Logger}).Handle)

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w http.ResponseWriter, msg string, code int) {
	http.Error(w, msg, code)
}
