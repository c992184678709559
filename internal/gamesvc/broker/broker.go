package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// Bus is the part of *nats.Conn the broker uses.
type Bus interface {
	Publish(subj string, data []byte) error
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type GameLister interface {
	ListGames(ctx context.Context, caller *models.User) ([]*models.Game, error)
}

// Broker publishes game events and answers requests relayed by the socket
// service. GameService is set after construction since the game service
// publishes through the broker.
type Broker struct {
	Conn        Bus
	UserService Authenticator
	GameService GameLister
	now         func() time.Time
}

func NewBroker(nc Bus, userService Authenticator) *Broker {
	return &Broker{
		Conn:        nc,
		UserService: userService,
		now:         time.Now,
	}
}

// consume messages relayed by the socket service (Queue)
func (b *Broker) QueueSubscribeSocketService(topic, queueGroup string) (*nats.Subscription, error) {
	return b.Conn.QueueSubscribe(topic, queueGroup, func(m *nats.Msg) {
		b.HandleMessage(m.Data)
	})
}

// HandleMessage handles one message coming from the socket service.
func (b *Broker) HandleMessage(raw []byte) {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(raw, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	switch msg.Type {
	case comm.TypeInit:
		b.handleInit(msg)
	default:
		log.Errorf("Unknown message %q", msg.Type)
	}
}

func (b *Broker) handleInit(msg *comm.WSMessage) {
	request := comm.InitRequest{}
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		log.Errorf("Error decoding init request: %s", err)
		b.publishError(apperr.New(apperr.Validation, ""), msg.SocketId)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := b.UserService.Authenticate(ctx, request.Token)
	if err != nil {
		log.Warnf("socket %s failed to authenticate: %s", msg.SocketId, err)
		b.publishError(err, msg.SocketId)
		return
	}

	games := []*models.Game{}
	if b.GameService != nil {
		all, err := b.GameService.ListGames(ctx, user)
		if err != nil {
			log.Errorf("Error [GameService.ListGames] %s", err)
			b.publishError(err, msg.SocketId)
			return
		}
		for _, g := range all {
			if g.CreatorID == user.ID {
				games = append(games, g)
			}
		}
	}

	data, err := json.Marshal(games)
	if err != nil {
		log.Errorf("unable to marshal games for socket %s", msg.SocketId)
		return
	}
	b.reply(comm.TypeInitResponse, comm.InitResponse{
		UserID:   user.ID,
		Username: user.Username,
		Games:    data,
	}, msg.SocketId)
}

func (b *Broker) publishError(err error, socketId string) {
	kind := apperr.KindOf(err)
	data := comm.ErrorData{Kind: kind.String(), Message: kind.Message()}
	var e *apperr.Error
	if errors.As(err, &e) && kind != apperr.Unknown && kind != apperr.Runtime {
		data.Message = e.Message
	}
	b.reply(comm.TypeError, data, socketId)
}

func (b *Broker) reply(msgType string, v any, socketId string) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("unable to marshal %s for socket %s", msgType, socketId)
		return
	}

	payload, err := json.Marshal(&comm.WSMessage{
		Type:     msgType,
		Data:     data,
		SocketId: socketId,
	})
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.ServiceTopic, payload)
}

// PublishGameEvent announces a completed mutation. Failures are logged only.
func (b *Broker) PublishGameEvent(eventType string, game *models.Game) {
	event := comm.GameEvent{
		EventID:   uuid.New().String(),
		GameID:    game.ID,
		Name:      game.Name,
		CreatorID: game.CreatorID,
		Version:   game.Version,
		TCPPort:   game.TCPPort,
		UDPPort:   game.UDPPort,
		IsOnline:  game.IsOnline,
		At:        b.now().UTC(),
	}
	b.PublishEvent(eventType, event)
}

func (b *Broker) PublishEvent(eventType string, event comm.GameEvent) {
	payload, err := comm.Encode(eventType, event)
	if err != nil {
		log.Errorf("unable to encode %s event for game %d: %s", eventType, event.GameID, err)
		return
	}
	b.Publish(comm.EventsTopic, payload)
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
