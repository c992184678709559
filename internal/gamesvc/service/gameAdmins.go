package service

import (
	"context"
	"errors"
	"slices"

	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	log "github.com/sirupsen/logrus"
)

// GameAdmins lists the in-game server admins of an owned game.
func (s *GameService) GameAdmins(ctx context.Context, caller *models.User, gameID int64) ([]string, error) {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true})
	if err != nil {
		return nil, err
	}
	admins, err := s.volumes.Admins(s.names.VolumeName(game.Name))
	if err != nil {
		return nil, apperr.Wrap(apperr.Runtime, "Could not read admin list", err)
	}
	return admins, nil
}

func (s *GameService) AddGameAdmin(ctx context.Context, caller *models.User, gameID int64, username string) ([]string, error) {
	username, err := normalizeAdmin(username)
	if err != nil {
		return nil, err
	}
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true})
	if err != nil {
		return nil, err
	}

	admins, err := s.volumes.UpdateAdmins(s.names.VolumeName(game.Name), func(admins []string) ([]string, error) {
		if slices.Contains(admins, username) {
			return nil, apperr.New(apperr.Duplicate, "User is already an admin")
		}
		return append(admins, username), nil
	})
	if err != nil {
		return nil, adminListError(err)
	}

	log.WithFields(log.Fields{"game_id": game.ID, "admin": username}).Info("game admin added")
	return admins, nil
}

func (s *GameService) RemoveGameAdmin(ctx context.Context, caller *models.User, gameID int64, username string) ([]string, error) {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{Owner: true})
	if err != nil {
		return nil, err
	}

	admins, err := s.volumes.UpdateAdmins(s.names.VolumeName(game.Name), func(admins []string) ([]string, error) {
		i := slices.Index(admins, username)
		if i < 0 {
			return nil, apperr.New(apperr.NotFound, "User is not an admin")
		}
		return slices.Delete(admins, i, i+1), nil
	})
	if err != nil {
		return nil, adminListError(err)
	}

	log.WithFields(log.Fields{"game_id": game.ID, "admin": username}).Info("game admin removed")
	return admins, nil
}

func adminListError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Wrap(apperr.Runtime, "Could not update admin list", err)
}
