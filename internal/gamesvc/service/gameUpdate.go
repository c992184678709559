package service

import (
	"context"
	"errors"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	"github.com/avvvet/gamehost-services/internal/gamesvc/volume"
	log "github.com/sirupsen/logrus"
)

// UpdateGameInput leaves a field unchanged when it is nil.
type UpdateGameInput struct {
	Name    *string `json:"name"`
	Version *string `json:"version"`
}

// UpdateGame renames an offline game and/or moves it to another image
// version. Runtime and volume changes are unwound if the row update fails.
func (s *GameService) UpdateGame(ctx context.Context, caller *models.User, gameID int64, in UpdateGameInput) (*models.Game, error) {
	name, version := "", ""
	var err error
	if in.Name != nil {
		if name, err = normalizeGameName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.Version != nil {
		if version, err = normalizeVersion(*in.Version); err != nil {
			return nil, err
		}
	}

	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true, State: Offline})
	if err != nil {
		return nil, err
	}

	updated := *game
	if name != "" {
		updated.Name = name
	}
	if version != "" {
		updated.Version = version
	}
	if updated.Name == game.Name && updated.Version == game.Version {
		return game, nil
	}

	logCtx := log.WithFields(log.Fields{"game_id": game.ID, "game": game.Name, "user_id": caller.ID})
	var undo saga
	result, err := s.applyUpdate(ctx, game, &updated, &undo, logCtx)
	if err != nil {
		logCtx.WithError(err).Error("updateGame failed, rolling back")
		undo.rollback(ctx, logCtx)
		return nil, err
	}

	logCtx.WithFields(log.Fields{"name": result.Name, "version": result.Version}).Info("game updated")
	s.events.PublishGameEvent(comm.EventGameUpdated, result)
	return result, nil
}

func (s *GameService) applyUpdate(ctx context.Context, game, updated *models.Game, undo *saga, logCtx *log.Entry) (*models.Game, error) {
	oldVolume, newVolume := s.names.VolumeName(game.Name), s.names.VolumeName(updated.Name)
	oldContainer, newContainer := s.names.ContainerName(game.Name), s.names.ContainerName(updated.Name)
	renamed := updated.Name != game.Name
	reversioned := updated.Version != game.Version

	if renamed {
		if err := s.volumes.Rename(oldVolume, newVolume); err != nil {
			if errors.Is(err, volume.ErrExists) {
				return nil, apperr.Wrap(apperr.Duplicate, "A game with this name already exists", err)
			}
			return nil, apperr.Wrap(apperr.Runtime, "Could not rename game volume", err)
		}
		undo.push("restore volume name", func(context.Context) error {
			return s.volumes.Rename(newVolume, oldVolume)
		})
	}

	previous := s.names.PreviousContainerName(game.Name)
	if reversioned {
		if updated.Version == models.LatestVersion {
			if err := s.runtime.Pull(ctx, s.image, updated.Version); err != nil {
				return nil, runtimeError("could not pull image", err)
			}
		}
		if err := s.runtime.Rename(ctx, oldContainer, previous); err != nil {
			return nil, runtimeError("could not set aside game container", err)
		}
		undo.push("restore previous container", func(ctx context.Context) error {
			return s.runtime.Rename(ctx, previous, oldContainer)
		})

		containerID, err := s.runtime.Run(ctx, runtime.RunSpec{
			Name:       newContainer,
			Image:      s.image,
			Version:    updated.Version,
			TCPPort:    updated.TCPPort,
			UDPPort:    updated.UDPPort,
			VolumePath: s.volumes.Path(newVolume),
		})
		s.pushRemoveContainer(undo, newContainer, err)
		if err != nil {
			return nil, runtimeError("could not run game container", err)
		}
		if err := s.runtime.Stop(ctx, newContainer); err != nil {
			return nil, runtimeError("could not stop new game container", err)
		}
		updated.ContainerID = containerID
	} else if renamed {
		if err := s.runtime.Rename(ctx, oldContainer, newContainer); err != nil {
			return nil, runtimeError("could not rename game container", err)
		}
		undo.push("restore container name", func(ctx context.Context) error {
			return s.runtime.Rename(ctx, newContainer, oldContainer)
		})
	}

	result, err := s.games.UpdateGame(ctx, updated)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, apperr.Wrap(apperr.Duplicate, "", err)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.Wrap(apperr.NotFound, "", err)
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}

	if reversioned {
		if err := s.removeContainer(previous)(ctx); err != nil {
			logCtx.WithError(err).WithField("container", previous).Warn("could not remove previous container")
		}
	}
	result.IsOnline = false
	return result, nil
}
