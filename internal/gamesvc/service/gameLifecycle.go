package service

import (
	"context"
	"errors"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// StartGame moves an offline game online.
func (s *GameService) StartGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error) {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true, State: Offline})
	if err != nil {
		return nil, err
	}
	if err := s.runtime.Start(ctx, s.names.ContainerName(game.Name)); err != nil {
		return nil, runtimeError("could not start game container", err)
	}
	game.IsOnline = true

	log.WithFields(log.Fields{"game_id": game.ID, "user_id": caller.ID}).Info("game started")
	s.events.PublishGameEvent(comm.EventGameStarted, game)
	return game, nil
}

// StopGame moves an online game offline.
func (s *GameService) StopGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error) {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true, State: Online})
	if err != nil {
		return nil, err
	}
	if err := s.runtime.Stop(ctx, s.names.ContainerName(game.Name)); err != nil {
		return nil, runtimeError("could not stop game container", err)
	}
	game.IsOnline = false

	log.WithFields(log.Fields{"game_id": game.ID, "user_id": caller.ID}).Info("game stopped")
	s.events.PublishGameEvent(comm.EventGameStopped, game)
	return game, nil
}

// DeleteGame removes the container, the volume and the row of an offline
// game. All three steps are attempted and their failures reported together.
func (s *GameService) DeleteGame(ctx context.Context, caller *models.User, gameID int64) error {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true, State: Offline})
	if err != nil {
		return err
	}
	logCtx := log.WithFields(log.Fields{"game_id": game.ID, "game": game.Name, "user_id": caller.ID})

	var errs error
	if err := s.removeContainer(s.names.ContainerName(game.Name))(ctx); err != nil {
		logCtx.WithError(err).Error("deleteGame: could not remove container")
		errs = multierr.Append(errs, err)
	}
	if err := s.volumes.Remove(s.names.VolumeName(game.Name)); err != nil {
		logCtx.WithError(err).Error("deleteGame: could not remove volume")
		errs = multierr.Append(errs, err)
	}
	if err := s.games.DeleteGame(ctx, game.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logCtx.WithError(err).Error("deleteGame: could not delete row")
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return apperr.Wrap(apperr.Runtime, "Game could not be removed completely", errs)
	}

	logCtx.Info("game deleted")
	s.events.PublishGameEvent(comm.EventGameDeleted, game)
	return nil
}
