package service

import (
	"context"
	"time"

	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
)

// Repositories return store.ErrNotFound and store.ErrDuplicate for the
// conditions the services translate into caller facing kinds.

type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionUser(ctx context.Context, token string, now time.Time) (*models.User, error)
	InvalidateSession(ctx context.Context, token string) error
}

type GameRepository interface {
	CreateGame(ctx context.Context, g *models.Game) (*models.Game, error)
	GetGameByID(ctx context.Context, gameID int64) (*models.Game, error)
	ListGames(ctx context.Context) ([]*models.Game, error)
	UsedPorts(ctx context.Context) ([]int, error)
	UpdateGame(ctx context.Context, g *models.Game) (*models.Game, error)
	DeleteGame(ctx context.Context, gameID int64) error
}

// ContainerRuntime is the subset of the docker CLI wrapper the services use.
type ContainerRuntime interface {
	Pull(ctx context.Context, image, version string) error
	Run(ctx context.Context, spec runtime.RunSpec) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string, force bool) error
	Rename(ctx context.Context, oldName, newName string) error
	Inspect(ctx context.Context, name string) (*runtime.Container, error)
}

type Volumes interface {
	Create(name string) (string, error)
	Path(name string) string
	Remove(name string) error
	Rename(oldName, newName string) error
	ResetSaves(name string) error
	Admins(name string) ([]string, error)
	WriteAdmins(name string, admins []string) error
	UpdateAdmins(name string, fn func(admins []string) ([]string, error)) ([]string, error)
}

type EventPublisher interface {
	PublishGameEvent(eventType string, game *models.Game)
}

type discardEvents struct{}

func (discardEvents) PublishGameEvent(string, *models.Game) {}
