package broker

import (
	"encoding/json"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Bus is the part of *nats.Conn the broker uses.
type Bus interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Sockets is what the broker needs from the websocket hub.
type Sockets interface {
	Send(socketId string, m *comm.WSMessage)
	BindUser(socketId string, userID int64) bool
	UserSockets(userID int64) []string
}

type Broker struct {
	Conn    Bus
	Sockets Sockets
}

func NewBroker(conn Bus, sockets Sockets) *Broker {
	return &Broker{
		Conn:    conn,
		Sockets: sockets,
	}
}

// consume replies from the game service
func (b *Broker) SubscribeGameService(topic string) (*nats.Subscription, error) {
	return b.Conn.Subscribe(topic, func(m *nats.Msg) {
		b.HandleMessage(m.Data)
	})
}

// consume lifecycle events
func (b *Broker) SubscribeEvents(topic string) (*nats.Subscription, error) {
	return b.Conn.Subscribe(topic, func(m *nats.Msg) {
		b.HandleEvent(m.Data)
	})
}

// publish message to game service
func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// HandleMessage receives a reply addressed to one socket.
func (b *Broker) HandleMessage(raw []byte) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(raw, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Type {
	case comm.TypeInitResponse:
		resp := comm.InitResponse{}
		if err := json.Unmarshal(message.Data, &resp); err != nil {
			log.Errorf("Error decoding init response: %s", err)
			return
		}
		if !b.Sockets.BindUser(message.SocketId, resp.UserID) {
			log.Debugf("socket %s closed before init completed", message.SocketId)
			return
		}
		b.Sockets.Send(message.SocketId, message)
	case comm.TypeError:
		b.Sockets.Send(message.SocketId, message)
	default:
		log.Errorf("Unknown message %q", message.Type)
	}
}

// HandleEvent forwards a lifecycle event to every socket of the game's creator.
func (b *Broker) HandleEvent(raw []byte) {
	message, event, err := comm.Decode(raw)
	if err != nil {
		log.Errorf("Error decoding event: %s", err)
		return
	}
	for _, socketId := range b.Sockets.UserSockets(event.CreatorID) {
		b.Sockets.Send(socketId, message)
	}
}
