// Package app assembles the match server from configuration: the ambient
// stack, the simulation loop, the websocket hub and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/config"
	"squad-clash/core/internal/influx"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/net/ws"
	"squad-clash/core/internal/sim"
)

const shutdownTimeout = 5 * time.Second

// Server is one hosted match.
type Server struct {
	cfg     config.Config
	stack   *Stack
	sink    *influx.Sink
	matchID string

	game    *sim.Game
	loop    *sim.Loop
	hub     *ws.Hub
	handler nethttp.Handler
}

// NewServer seats the configured players in a fresh match and builds the
// HTTP surface. sink may be nil.
func NewServer(cfg config.Config, stack *Stack, sink *influx.Sink) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		stack:   stack,
		sink:    sink,
		matchID: uuid.NewString(),
	}

	deps := stack.Deps()
	deps.Broadcaster = battle.BroadcasterFunc(s.roundEnded)
	simCfg := cfg.Sim
	simCfg.Authoritative = true
	game, err := sim.NewGame(simCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("new game: %w", err)
	}

	teams := cfg.Server.Teams()
	ids := make([]string, 0, len(teams))
	for id := range teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := game.AddPlayer(id, teams[id]); err != nil {
			return nil, fmt.Errorf("seat %s: %w", id, err)
		}
	}

	s.game = game
	s.loop = sim.NewLoop(game, cfg.Loop, sim.LoopHooks{
		OnCommandDrop: func(reason string, cmd sim.Command) {
			stack.Log.Debug().Str("reason", reason).Str("actor", cmd.ActorID).Str("type", string(cmd.Type)).Msg("command dropped")
		},
		OnQueueWarning: func(length int) {
			stack.Log.Warn().Int("length", length).Msg("command queue filling up")
		},
	})
	log := stack.Log.With().Str("match", s.matchID).Logger()
	s.hub = ws.NewHub(s.loop, ws.HubConfig{Log: log, WriteTimeout: cfg.Server.WriteTimeout})
	s.handler = NewHTTPHandler(s, HTTPHandlerConfig{
		Path:   cfg.Server.Path,
		Socket: ws.NewHandler(s.hub, ws.HandlerConfig{Log: log}),
	})
	return s, nil
}

// roundEnded runs on the loop goroutine with the game held.
func (s *Server) roundEnded(msg proto.RoundEnd) {
	s.hub.BroadcastRoundEnd(msg)
	if s.sink == nil {
		return
	}
	points := influx.RoundEndPoints(s.matchID, msg, time.Now())
	go func() {
		if err := s.sink.Write(context.Background(), points...); err != nil {
			s.stack.Log.Warn().Err(err).Int("round", msg.Round).Msg("round end stats not recorded")
		}
	}()
}

// MatchID identifies the hosted match.
func (s *Server) MatchID() string { return s.matchID }

// Loop exposes the simulation loop.
func (s *Server) Loop() *sim.Loop { return s.loop }

// Hub exposes the websocket hub.
func (s *Server) Hub() *ws.Hub { return s.hub }

// Handler serves health, diagnostics, services and the websocket endpoint.
func (s *Server) Handler() nethttp.Handler { return s.handler }

// Run drives the loop and serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &nethttp.Server{Addr: s.cfg.Server.Addr, Handler: s.handler}
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := s.loop.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		s.stack.Log.Info().Str("addr", srv.Addr).Str("match", s.matchID).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// Run loads configuration from configDir and hosts a match until ctx ends.
func Run(ctx context.Context, configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	stack, err := NewStack(cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := stack.Close(closeCtx); cerr != nil {
			stack.Log.Warn().Err(cerr).Msg("failed to close logging stack")
		}
	}()

	sink, err := influx.Open(ctx, cfg.Influx, stack.Log)
	if err != nil {
		stack.Log.Warn().Err(err).Msg("influx disabled")
		sink = nil
	}
	defer sink.Close()

	server, err := NewServer(cfg, stack, sink)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
