// Package ws serves the match over websockets: one session per seated
// player, commands staged on the simulation loop, round-end broadcasts.
package ws

import (
	"errors"
	nethttp "net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/sim"
)

// HandlerConfig tunes the websocket handler.
type HandlerConfig struct {
	Log zerolog.Logger
}

// Handler upgrades requests and runs sessions against a hub.
type Handler struct {
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

var _ nethttp.Handler = (*Handler)(nil)

// NewHandler constructs a websocket handler for hub.
func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	return &Handler{
		hub: hub,
		log: cfg.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP serves one session. The player is named by the id query parameter.
func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("player", playerID).Msg("upgrade failed")
		return
	}

	sub, join, err := h.hub.Subscribe(playerID, conn)
	if err != nil {
		if errors.Is(err, ErrNotSeated) {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
			conn.WriteMessage(websocket.CloseMessage, message)
		} else {
			h.log.Error().Err(err).Str("player", playerID).Msg("failed to join session")
		}
		conn.Close()
		return
	}
	log := h.log.With().Str("player", playerID).Logger()
	log.Info().Int("entities", len(join.Snapshot.Entities)).Msg("session joined")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID, sub)
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			log.Debug().Err(err).Msg("discarding malformed message")
			continue
		}

		var reply []byte
		switch msg.Type {
		case proto.TypeHeartbeat:
			reply, err = proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: h.hub.clock.Now().UnixMilli(),
				ClientTime: msg.SentAt,
			})
		case proto.TypeResync:
			reply, err = proto.EncodeJoin(h.hub.Resync(playerID))
		default:
			reply, err = h.command(sub, playerID, msg)
		}
		if err != nil {
			log.Error().Err(err).Str("type", msg.Type).Msg("failed to encode reply")
			continue
		}
		if reply == nil {
			continue
		}
		if !sub.enqueue(reply) {
			log.Warn().Str("type", msg.Type).Msg("session stalled, dropping")
			h.hub.Disconnect(playerID, sub)
			return
		}
	}
}

// command stages msg and renders its ack or reject. Messages without a
// sequence number get no reply; a replayed sequence number is acked again
// without staging.
func (h *Handler) command(sub *subscriber, playerID string, msg proto.ClientMessage) ([]byte, error) {
	if msg.Seq > 0 {
		if last := sub.LastCommandSeq(); last > 0 && msg.Seq <= last {
			return proto.EncodeCommandAck(proto.CommandAck{Seq: msg.Seq})
		}
	}
	cmd, ok, reason := h.hub.Stage(playerID, msg)
	if !ok {
		if reason == CommandRejectInvalid {
			h.log.Debug().Str("player", playerID).Str("type", msg.Type).Msg("invalid command")
		}
		if msg.Seq == 0 {
			return nil, nil
		}
		return proto.EncodeCommandReject(proto.CommandReject{Seq: msg.Seq, Reason: reason, Tick: cmd.OriginTick})
	}
	if msg.Seq == 0 {
		return nil, nil
	}
	sub.StoreLastCommandSeq(msg.Seq)
	return proto.EncodeCommandAck(proto.CommandAck{Seq: msg.Seq, Tick: cmd.OriginTick})
}

var _ Enqueuer = (*sim.Loop)(nil)
