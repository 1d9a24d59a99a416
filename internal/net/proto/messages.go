package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
	typeRoundEnd      = "roundEnd"
	typeJoin          = "join"
)

// Client message type identifiers.
const (
	TypePlace     = "place"
	TypeSubmit    = "submit"
	TypeAbility   = "ability"
	TypeMove      = "move"
	TypeClear     = "clear"
	TypeResync    = "resync"
	TypeHeartbeat = "heartbeat"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeRoundEnd = typeRoundEnd
	TypeJoin     = typeJoin
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver         int     `json:"ver,omitempty"`
	Type        string  `json:"type"`
	Seq         uint64  `json:"seq,omitempty"`
	UnitType    string  `json:"unitType,omitempty"`
	GridX       *int    `json:"gridX,omitempty"`
	GridY       *int    `json:"gridY,omitempty"`
	PlacementID uint32  `json:"placementId,omitempty"`
	Entity      uint32  `json:"entity,omitempty"`
	Ability     string  `json:"ability,omitempty"`
	Target      uint32  `json:"target,omitempty"`
	X           float64 `json:"x,omitempty"`
	Y           float64 `json:"y,omitempty"`
	SentAt      int64   `json:"sentAt,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// CommandAck describes an acknowledgement of a processed command.
type CommandAck struct {
	Seq  uint64
	Tick uint64
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Tick uint64 `json:"tick,omitempty"`
	}{
		Ver:  Version,
		Type: typeCommandAck,
		Seq:  msg.Seq,
		Tick: msg.Tick,
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq    uint64
	Reason string
	Tick   uint64
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Tick   uint64 `json:"tick,omitempty"`
	}{
		Ver:    Version,
		Type:   typeCommandReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
		Tick:   msg.Tick,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime,omitempty"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
	}
	return json.Marshal(frame)
}

// Join is sent once when a session attaches so the client can build its
// mirror from a full snapshot.
type Join struct {
	Ver             int          `json:"ver"`
	Type            string       `json:"type"`
	PlayerID        string       `json:"playerId"`
	Team            ecs.Team     `json:"team"`
	Seed            string       `json:"seed"`
	Round           int          `json:"round"`
	Phase           string       `json:"phase"`
	Snapshot        ecs.Snapshot `json:"snapshot"`
	NextPlacementID uint32       `json:"nextPlacementId"`
}

// EncodeJoin renders the join payload.
func EncodeJoin(msg Join) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeJoin
	return json.Marshal(msg)
}

// Survivor is one unit alive at the end of a battle.
type Survivor struct {
	EntityID    ecs.EntityID `json:"entityId"`
	PlacementID uint32       `json:"placementId"`
	Team        ecs.Team     `json:"team"`
	PlayerID    string       `json:"playerId"`
	HP          float64      `json:"hp"`
}

// RoundEnd is broadcast once per battle. Clients apply Delta, ServerTime
// and both ID counters before resuming local prediction.
type RoundEnd struct {
	Ver             int                   `json:"ver"`
	Type            string                `json:"type"`
	Winner          ecs.Team              `json:"winner"`
	Reason          string                `json:"reason"`
	Round           int                   `json:"round"`
	NextRound       int                   `json:"nextRound"`
	Phase           string                `json:"phase"`
	Survivors       []Survivor            `json:"survivors"`
	Stats           []economy.PlayerStats `json:"stats"`
	Lives           map[string]int        `json:"lives,omitempty"`
	Delta           ecs.Snapshot          `json:"delta"`
	ServerTime      time.Duration         `json:"serverTime"`
	NextEntityID    ecs.EntityID          `json:"nextEntityId"`
	NextPlacementID uint32                `json:"nextPlacementId"`
}

// EncodeRoundEnd renders a round-end broadcast.
func EncodeRoundEnd(msg RoundEnd) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeRoundEnd
	return json.Marshal(msg)
}

// DecodeRoundEnd parses a round-end broadcast received by a client.
func DecodeRoundEnd(payload []byte) (RoundEnd, error) {
	var msg RoundEnd
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Type != typeRoundEnd {
		return msg, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported server protocol version %d", msg.Ver)
	}
	return msg, nil
}
