package ws

import (
	"encoding/json"
	"sync"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Publisher forwards client messages to the game service.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex // gorilla allows one concurrent writer
	userID int64      // zero until the game service accepted the token
}

type Ws struct {
	connMap sync.Map // to keep track of socket connection with socketId
	Broker  Publisher
}

func NewWs() *Ws {
	return &Ws{}
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case comm.TypeInit:
		s.handleInit(socketId, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
		s.SendError(socketId, "unknown message type")
	}
}

func (s *Ws) handleInit(socketId string, msg *comm.WSMessage) {
	var payload comm.InitRequest
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Error: invalid_init_data Malformed init payload %s", err)
		s.SendError(socketId, "malformed init payload")
		return
	}

	if payload.Token == "" {
		log.Error("Invalid init payload: missing session token")
		s.SendError(socketId, "missing session token")
		return
	}

	// Update message with socket ID
	msg.SocketId = socketId

	// Marshal message for NATS
	bytes, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal WSMessage for NATS: %v", err)
		return
	}

	// Publish to game service
	if err := s.Broker.Publish(comm.SocketTopic, bytes); err != nil {
		log.Errorf("Failed to publish to NATS topic %s: %v", comm.SocketTopic, err)
		return
	}

	log.Infof("Published init message for socket %s to topic %s", socketId, comm.SocketTopic)
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &client{conn: conn})
}

func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
}

// BindUser marks the socket as belonging to userID.
func (s *Ws) BindUser(socketId string, userID int64) bool {
	c, ok := s.connMap.Load(socketId)
	if !ok {
		return false
	}
	cl := c.(*client)
	cl.mu.Lock()
	cl.userID = userID
	cl.mu.Unlock()
	return true
}

// UserSockets lists the sockets bound to userID.
func (s *Ws) UserSockets(userID int64) []string {
	var sockets []string
	s.connMap.Range(func(key, value any) bool {
		cl := value.(*client)
		cl.mu.Lock()
		bound := cl.userID == userID
		cl.mu.Unlock()
		if bound {
			sockets = append(sockets, key.(string))
		}
		return true // continue iterating
	})
	return sockets
}

// Send writes m to one socket. Unknown sockets are ignored.
func (s *Ws) Send(socketId string, m *comm.WSMessage) {
	c, ok := s.connMap.Load(socketId)
	if !ok {
		return
	}
	cl := c.(*client)
	cl.mu.Lock()
	defer cl.mu.Unlock()

	out := *m
	out.SocketId = ""
	if err := cl.conn.WriteJSON(&out); err != nil {
		log.Errorf("Failed to write to socket %s: %v", socketId, err)
	}
}

func (s *Ws) SendError(socketId, errorMsg string) {
	data, _ := json.Marshal(comm.ErrorData{Kind: "ValidationError", Message: errorMsg})
	s.Send(socketId, &comm.WSMessage{Type: comm.TypeError, Data: data})
}
