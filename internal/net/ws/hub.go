package ws

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/sim"
	"squad-clash/core/logging"
)

const (
	defaultWriteTimeout = 5 * time.Second
	// sendQueueSize bounds the frames waiting for one session's writer.
	sendQueueSize = 32
)

// subscriber is one live session. Frames are queued and written by the
// session's own writer goroutine so the loop never waits on a socket.
type subscriber struct {
	conn    *websocket.Conn
	timeout time.Duration
	send    chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	lastSeq uint64
}

func newSubscriber(conn *websocket.Conn, timeout time.Duration) *subscriber {
	return &subscriber{
		conn:    conn,
		timeout: timeout,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
}

// enqueue queues a text frame. It reports false when the session is closed
// or its queue is full.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) writeLoop(log zerolog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if s.timeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("session write failed")
				s.close()
				return
			}
		}
	}
}

// close stops the writer and closes the socket, which ends the read loop.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) LastCommandSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

func (s *subscriber) StoreLastCommandSeq(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

// ErrNotSeated is returned when a session names a player without a seat.
var ErrNotSeated = errors.New("ws: player has no seat in the match")

// HubConfig tunes a hub.
type HubConfig struct {
	Log          zerolog.Logger
	Clock        logging.Clock
	WriteTimeout time.Duration
}

// Hub tracks one websocket session per seated player, stages their
// commands on the loop and fans round-end broadcasts out to them.
type Hub struct {
	loop    *sim.Loop
	log     zerolog.Logger
	clock   logging.Clock
	timeout time.Duration

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

// NewHub attaches a hub to a running loop.
func NewHub(loop *sim.Loop, cfg HubConfig) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Hub{
		loop:        loop,
		log:         cfg.Log,
		clock:       clock,
		timeout:     timeout,
		subscribers: make(map[string]*subscriber),
	}
}

// HasPlayer reports whether playerID holds a seat in the match.
func (h *Hub) HasPlayer(playerID string) bool {
	seated := false
	h.loop.WithGame(func(g *sim.Game) {
		_, seated = g.Controller().TeamOf(playerID)
	})
	return seated
}

// Subscribe registers conn for playerID, replacing any earlier session.
// The join payload is queued as the session's first frame before any
// round-end broadcast can reach it.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn) (*subscriber, proto.Join, error) {
	var (
		join     proto.Join
		sub      *subscriber
		existing *subscriber
		err      error
	)
	h.loop.WithGame(func(g *sim.Game) {
		if _, seated := g.Controller().TeamOf(playerID); !seated {
			err = ErrNotSeated
			return
		}
		join = g.Join(playerID)
		var data []byte
		if data, err = proto.EncodeJoin(join); err != nil {
			return
		}
		sub = newSubscriber(conn, h.timeout)
		sub.enqueue(data)
		h.mu.Lock()
		existing = h.subscribers[playerID]
		h.subscribers[playerID] = sub
		h.mu.Unlock()
	})
	if err != nil {
		return nil, proto.Join{}, err
	}
	if existing != nil {
		existing.close()
	}
	go sub.writeLoop(h.log.With().Str("player", playerID).Logger())
	return sub, join, nil
}

// Resync builds a fresh join payload for a session that lost track.
func (h *Hub) Resync(playerID string) proto.Join {
	var join proto.Join
	h.loop.WithGame(func(g *sim.Game) { join = g.Join(playerID) })
	return join
}

// Disconnect drops sub when it is still the player's current session and
// stages the player's departure. A session already replaced by a newer one
// only closes its socket.
func (h *Hub) Disconnect(playerID string, sub *subscriber) {
	h.mu.Lock()
	current := h.subscribers[playerID] == sub
	if current {
		delete(h.subscribers, playerID)
	}
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	if !current {
		return
	}
	cmd := sim.Command{ActorID: playerID, Type: sim.CommandDisconnect, IssuedAt: h.clock.Now()}
	if ok, reason := h.loop.Enqueue(cmd); !ok {
		h.log.Warn().Str("player", playerID).Str("reason", reason).Msg("could not stage disconnect")
	}
}

// Stage turns a client message into a queued command.
func (h *Hub) Stage(playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	return StageClientCommand(CommandContext{
		Queue:     h.loop,
		HasPlayer: h.HasPlayer,
		Tick: func() uint64 {
			var tick uint64
			h.loop.WithGame(func(g *sim.Game) { tick = g.Tick() })
			return tick
		},
		Now: h.clock.Now,
	}, playerID, msg)
}

// Subscribers lists connected players in order.
func (h *Hub) Subscribers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BroadcastRoundEnd queues msg for every session. It runs on the loop
// goroutine while the game is held, so it never calls back into the loop
// and never waits on a socket. A session whose queue is full is closed.
func (h *Hub) BroadcastRoundEnd(msg proto.RoundEnd) {
	data, err := proto.EncodeRoundEnd(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode round end")
		return
	}

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if !sub.enqueue(data) {
			h.log.Warn().Str("player", id).Msg("round end dropped for a stalled session")
			sub.close()
		}
	}
	h.log.Info().Int("round", msg.Round).Str("winner", msg.Winner.String()).Str("reason", msg.Reason).
		Int("subscribers", len(subs)).Int("bytes", len(data)).Msg("round end broadcast")
}
