package service

import (
	"context"
	"errors"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	"github.com/avvvet/gamehost-services/internal/gamesvc/volume"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const statusLookups = 8

type Config struct {
	Image        string
	Namespace    string
	PortAttempts int
}

type CreateGameInput struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	TCPPort int    `json:"tcpPort"`
	UDPPort int    `json:"udpPort"`
}

// GameService provisions games and drives their lifecycle. Every exported
// method returns *apperr.Error values.
type GameService struct {
	games   GameRepository
	runtime ContainerRuntime
	volumes Volumes
	events  EventPublisher
	ports   *allocator.PortAllocator
	names   allocator.Namer
	image   string
	now     func() time.Time
}

func NewGameService(games GameRepository, rt ContainerRuntime, volumes Volumes, events EventPublisher, cfg Config) *GameService {
	if events == nil {
		events = discardEvents{}
	}
	return &GameService{
		games:   games,
		runtime: rt,
		volumes: volumes,
		events:  events,
		ports:   allocator.NewPortAllocator(cfg.PortAttempts),
		names:   allocator.NewNamer(cfg.Namespace),
		image:   cfg.Image,
		now:     time.Now,
	}
}

func (s *GameService) WithPortAllocator(a *allocator.PortAllocator) *GameService {
	s.ports = a
	return s
}

func (s *GameService) WithClock(now func() time.Time) *GameService {
	s.now = now
	return s
}

func (s *GameService) Names() allocator.Namer {
	return s.names
}

func runtimeError(message string, err error) error {
	if errors.Is(err, runtime.ErrNameInUse) {
		return apperr.Wrap(apperr.Duplicate, "A game container with this name already exists", err)
	}
	if errors.Is(err, runtime.ErrTimeout) {
		message = "Container runtime timed out: " + message
	}
	return apperr.Wrap(apperr.Runtime, message, err)
}

// removeContainer force removes a container, an absent one counts as removed.
func (s *GameService) removeContainer(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := s.runtime.Remove(ctx, name, true)
		if errors.Is(err, runtime.ErrNoSuchContainer) {
			return nil
		}
		return err
	}
}

// pushRemoveContainer registers the removal of a container that Run may have
// created. A name conflict means the container belongs to someone else.
func (s *GameService) pushRemoveContainer(undo *saga, name string, runErr error) {
	if errors.Is(runErr, runtime.ErrNameInUse) {
		return
	}
	undo.push("remove container", s.removeContainer(name))
}

// CreateGame provisions the volume, ports and container for a new game and
// commits the row last. Any failure after the volume exists unwinds every
// completed step before the error is returned. A new game is offline with
// pristine saves.
func (s *GameService) CreateGame(ctx context.Context, caller *models.User, in CreateGameInput) (*models.Game, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Unauthenticated, "")
	}
	name, err := normalizeGameName(in.Name)
	if err != nil {
		return nil, err
	}
	version, err := normalizeVersion(in.Version)
	if err != nil {
		return nil, err
	}
	if err := validatePorts(in.TCPPort, in.UDPPort); err != nil {
		return nil, err
	}

	logCtx := log.WithFields(log.Fields{"game": name, "user_id": caller.ID, "version": version})

	volumePath, err := s.volumes.Create(s.names.VolumeName(name))
	if err != nil {
		if errors.Is(err, volume.ErrExists) {
			logCtx.Warn("createGame: volume already exists")
			return nil, apperr.Wrap(apperr.Duplicate, "A game with this name already exists", err)
		}
		return nil, apperr.Wrap(apperr.Runtime, "Could not create game volume", err)
	}

	var undo saga
	undo.push("remove volume", func(context.Context) error {
		return s.volumes.Remove(s.names.VolumeName(name))
	})

	game, err := s.provision(ctx, caller, name, version, volumePath, in, &undo, logCtx)
	if err != nil {
		logCtx.WithError(err).Error("createGame failed, rolling back")
		undo.rollback(ctx, logCtx)
		return nil, err
	}

	logCtx.WithFields(log.Fields{"game_id": game.ID, "tcp_port": game.TCPPort, "udp_port": game.UDPPort}).Info("game created")
	s.events.PublishGameEvent(comm.EventGameCreated, game)
	return game, nil
}

func (s *GameService) provision(ctx context.Context, caller *models.User, name, version, volumePath string, in CreateGameInput, undo *saga, logCtx *log.Entry) (*models.Game, error) {
	tcpPort, udpPort, err := s.allocatePorts(ctx, in.TCPPort, in.UDPPort)
	if err != nil {
		return nil, err
	}

	if err := s.volumes.WriteAdmins(s.names.VolumeName(name), []string{caller.Username}); err != nil {
		return nil, apperr.Wrap(apperr.Runtime, "Could not write admin list", err)
	}

	if version == models.LatestVersion {
		if err := s.runtime.Pull(ctx, s.image, version); err != nil {
			return nil, runtimeError("could not pull image", err)
		}
	}

	containerName := s.names.ContainerName(name)
	containerID, err := s.runtime.Run(ctx, runtime.RunSpec{
		Name:       containerName,
		Image:      s.image,
		Version:    version,
		TCPPort:    tcpPort,
		UDPPort:    udpPort,
		VolumePath: volumePath,
	})
	s.pushRemoveContainer(undo, containerName, err)
	if err != nil {
		return nil, runtimeError("could not run game container", err)
	}
	logCtx.WithField("container_id", containerID).Debug("container started")

	if err := s.runtime.Stop(ctx, containerName); err != nil {
		return nil, runtimeError("could not stop new game container", err)
	}
	if err := s.volumes.ResetSaves(s.names.VolumeName(name)); err != nil {
		return nil, apperr.Wrap(apperr.Runtime, "Could not reset game saves", err)
	}

	game, err := s.games.CreateGame(ctx, &models.Game{
		Name:        name,
		CreatorID:   caller.ID,
		Version:     version,
		TCPPort:     tcpPort,
		UDPPort:     udpPort,
		ContainerID: containerID,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.Duplicate, "", err)
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	game.IsOnline = false
	return game, nil
}

// allocatePorts validates explicit ports against the store and fills the
// missing ones from the allocator.
func (s *GameService) allocatePorts(ctx context.Context, tcpPort, udpPort int) (int, int, error) {
	used, err := s.games.UsedPorts(ctx)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Unknown, "", err)
	}
	taken := make(map[int]struct{}, len(used))
	for _, p := range used {
		taken[p] = struct{}{}
	}

	need := 0
	for _, p := range []int{tcpPort, udpPort} {
		if p == 0 {
			need++
			continue
		}
		if _, ok := taken[p]; ok {
			return 0, 0, apperr.Newf(apperr.Duplicate, "Port %d is already in use", p)
		}
		used = append(used, p)
	}

	free, err := s.ports.Allocate(used, need)
	if err != nil {
		if errors.Is(err, allocator.ErrExhausted) {
			return 0, 0, apperr.Wrap(apperr.AllocationExhausted, "", err)
		}
		return 0, 0, apperr.Wrap(apperr.Unknown, "", err)
	}
	if tcpPort == 0 {
		tcpPort, free = free[0], free[1:]
	}
	if udpPort == 0 {
		udpPort = free[0]
	}
	return tcpPort, udpPort, nil
}

// ListGames returns every game with its live status.
func (s *GameService) ListGames(ctx context.Context, caller *models.User) ([]*models.Game, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Unauthenticated, "")
	}
	games, err := s.games.ListGames(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusLookups)
	for _, game := range games {
		g.Go(func() error {
			online, err := s.liveStatus(gctx, game)
			if err != nil {
				return err
			}
			game.IsOnline = online
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return games, nil
}

// GetGame is readable by any authenticated user.
func (s *GameService) GetGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error) {
	game, err := s.AuthorizeGameAccess(ctx, caller, gameID, Access{})
	if err != nil {
		return nil, err
	}
	online, err := s.liveStatus(ctx, game)
	if err != nil {
		return nil, err
	}
	game.IsOnline = online
	return game, nil
}
