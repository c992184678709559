package comm

import (
	"encoding/json"
	"time"
)

const (
	EventsTopic  = "gamehost.events" // game lifecycle events
	SocketTopic  = "socket.service"  // socket service -> game service
	ServiceTopic = "game.service"    // game service -> socket service
	ServiceQueue = "game.service.workers"
)

// websocket message types
const (
	TypeInit         = "init"
	TypeInitResponse = "init-response"
	TypeError        = "error"
)

const (
	EventGameCreated = "game-created"
	EventGameStarted = "game-started"
	EventGameStopped = "game-stopped"
	EventGameUpdated = "game-updated"
	EventGameDeleted = "game-deleted"
	EventGameDrift   = "game-drift"
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "game-started", "error"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid,omitempty"`
}

// InitRequest binds a websocket to the session that owns token.
type InitRequest struct {
	Token string `json:"token"`
}

type InitResponse struct {
	UserID   int64           `json:"userId"`
	Username string          `json:"username"`
	Games    json.RawMessage `json:"games"`
}

type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// GameEvent is the payload of every message on EventsTopic.
type GameEvent struct {
	EventID   string    `json:"eventId"`
	GameID    int64     `json:"gameId"`
	Name      string    `json:"name"`
	CreatorID int64     `json:"creatorId"`
	Version   string    `json:"version"`
	TCPPort   int       `json:"tcpPort"`
	UDPPort   int       `json:"udpPort"`
	IsOnline  bool      `json:"isOnline"`
	Reason    string    `json:"reason,omitempty"` // drift events only
	At        time.Time `json:"at"`
}

// Decode unwraps a bus message into its envelope and event payload.
func Decode(raw []byte) (*WSMessage, *GameEvent, error) {
	msg := &WSMessage{}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, nil, err
	}
	event := &GameEvent{}
	if err := json.Unmarshal(msg.Data, event); err != nil {
		return msg, nil, err
	}
	return msg, event, nil
}

// Encode wraps an event into the bus envelope.
func Encode(eventType string, event GameEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&WSMessage{Type: eventType, Data: data})
}
