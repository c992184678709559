package service

import (
	"context"
	"errors"

	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	AnyState State = iota
	Offline
	Online
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	default:
		return "any"
	}
}

// Access describes what a caller needs before touching a game.
type Access struct {
	Owner bool
	State State
}

// AuthorizeGameAccess loads the game and checks ownership and, when a state is
// required, the live container status. It only reads and can be called any
// number of times per request. When State is set the returned game carries
// the live IsOnline value.
func (s *GameService) AuthorizeGameAccess(ctx context.Context, caller *models.User, gameID int64, access Access) (*models.Game, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Unauthenticated, "")
	}

	game, err := s.games.GetGameByID(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "")
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}

	if access.Owner && game.CreatorID != caller.ID {
		log.WithFields(log.Fields{"game_id": game.ID, "user_id": caller.ID}).Warn("access denied: not the owner")
		return nil, apperr.New(apperr.Forbidden, "")
	}

	if access.State == AnyState {
		return game, nil
	}
	online, err := s.liveStatus(ctx, game)
	if err != nil {
		return nil, err
	}
	game.IsOnline = online
	if (access.State == Online) != online {
		return nil, apperr.Newf(apperr.InvalidState, "Game must be %s", access.State)
	}
	return game, nil
}

// liveStatus asks the runtime whether the game's container is running. A
// missing container reports offline.
func (s *GameService) liveStatus(ctx context.Context, game *models.Game) (bool, error) {
	container, err := s.runtime.Inspect(ctx, s.names.ContainerName(game.Name))
	if err != nil {
		if errors.Is(err, runtime.ErrNoSuchContainer) {
			log.WithFields(log.Fields{"game_id": game.ID, "game": game.Name}).Warn("game container is missing")
			return false, nil
		}
		return false, runtimeError("could not inspect game container", err)
	}
	return container.Running(), nil
}
