package app

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	"squad-clash/core/internal/services"
	"squad-clash/core/internal/sim"
	"squad-clash/core/logging"
)

// HTTPHandlerConfig names the websocket route and its handler.
type HTTPHandlerConfig struct {
	Path   string
	Socket nethttp.Handler
}

type diagnostics struct {
	Status      string              `json:"status"`
	ServerTime  int64               `json:"serverTime"`
	MatchID     string              `json:"matchId"`
	Tick        uint64              `json:"tick"`
	Round       int                 `json:"round"`
	Phase       string              `json:"phase"`
	TickRate    int                 `json:"tickRate"`
	Pending     int                 `json:"pending"`
	Checksum    string              `json:"checksum"`
	Subscribers []string            `json:"subscribers"`
	Telemetry   map[string]uint64   `json:"telemetry"`
	Events      logging.RouterStats `json:"events"`
}

// NewHTTPHandler routes the match server's endpoints.
func NewHTTPHandler(s *Server, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("GET /health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := diagnostics{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			MatchID:     s.matchID,
			Pending:     s.loop.Pending(),
			Subscribers: s.hub.Subscribers(),
		}
		s.loop.WithGame(func(g *sim.Game) {
			payload.Tick = g.Tick()
			payload.Round = g.Round()
			payload.Phase = string(g.Phase())
			payload.TickRate = g.Config().TickRate
			payload.Checksum = g.Checksum()
		})
		if s.stack != nil {
			payload.Telemetry = s.stack.Counters.Snapshot()
			payload.Events = s.stack.Router.Stats()
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("GET /services", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var names []string
		s.loop.WithGame(func(g *sim.Game) { names = g.Services().Names() })
		writeJSON(w, nethttp.StatusOK, map[string]any{"services": names})
	})

	mux.HandleFunc("POST /services/{name}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		name := r.PathValue("name")
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			httpError(w, "failed to read payload", nethttp.StatusBadRequest)
			return
		}
		args, err := services.ParseArgs(body)
		if err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}

		var (
			result  any
			callErr error
			known   bool
		)
		s.loop.WithGame(func(g *sim.Game) {
			if known = g.Services().Has(name); known {
				result, callErr = g.Call(name, args)
			}
		})
		if !known {
			httpError(w, "unknown service", nethttp.StatusNotFound)
			return
		}
		if callErr != nil {
			status := nethttp.StatusUnprocessableEntity
			if errors.Is(callErr, services.ErrMissingArg) {
				status = nethttp.StatusBadRequest
			}
			writeJSON(w, status, map[string]any{"error": callErr.Error()})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"result": result})
	})

	if cfg.Socket != nil {
		path := cfg.Path
		if path == "" {
			path = "/ws"
		}
		mux.Handle(path, cfg.Socket)
	}
	return mux
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, status int) {
	nethttp.Error(w, message, status)
}
