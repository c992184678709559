package store

import (
	"context"
	"fmt"

	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GameStore struct {
	db *pgxpool.Pool
}

func NewGameStore(db *pgxpool.Pool) *GameStore {
	return &GameStore{db: db}
}

const selectGame = `
		SELECT g.id, g.name, g.creator_id, g.version, g.tcp_port, g.udp_port, g.container_id, g.created_at,
		       u.id, u.username, u.created_at
		FROM games g
		INNER JOIN users u ON u.id = g.creator_id
`

func scanGame(row pgx.Row) (*models.Game, error) {
	game := &models.Game{Creator: &models.User{}}
	err := row.Scan(
		&game.ID,
		&game.Name,
		&game.CreatorID,
		&game.Version,
		&game.TCPPort,
		&game.UDPPort,
		&game.ContainerID,
		&game.CreatedAt,
		&game.Creator.ID,
		&game.Creator.Username,
		&game.Creator.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return game, nil
}

// CreateGame inserts the row and reads it back joined with its creator, both
// inside one transaction.
func (s *GameStore) CreateGame(ctx context.Context, g *models.Game) (*models.Game, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO games (name, creator_id, version, tcp_port, udp_port, container_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.Name, g.CreatorID, g.Version, g.TCPPort, g.UDPPort, g.ContainerID, g.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert game %s: %w", g.Name, mapError(err))
	}

	game, err := scanGame(tx.QueryRow(ctx, selectGame+` WHERE g.name = $1`, g.Name))
	if err != nil {
		return nil, fmt.Errorf("read back game %s: %w", g.Name, mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", mapError(err))
	}
	return game, nil
}

func (s *GameStore) GetGameByID(ctx context.Context, gameID int64) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx, selectGame+` WHERE g.id = $1`, gameID))
	if err != nil {
		return nil, mapError(err)
	}
	return game, nil
}

func (s *GameStore) GetGameByName(ctx context.Context, name string) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx, selectGame+` WHERE g.name = $1`, name))
	if err != nil {
		return nil, mapError(err)
	}
	return game, nil
}

func (s *GameStore) ListGames(ctx context.Context) ([]*models.Game, error) {
	rows, err := s.db.Query(ctx, selectGame+` ORDER BY g.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	games := []*models.Game{}
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game row: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return games, nil
}

// UsedPorts returns every host port held by a game, tcp and udp alike.
func (s *GameStore) UsedPorts(ctx context.Context) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tcp_port FROM games
		UNION
		SELECT udp_port FROM games
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select used ports: %w", err)
	}
	defer rows.Close()

	ports := []int{}
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports = append(ports, port)
	}
	return ports, rows.Err()
}

// UpdateGame writes the mutable columns: name, version and container id.
func (s *GameStore) UpdateGame(ctx context.Context, g *models.Game) (*models.Game, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE games
		SET name = $1, version = $2, container_id = $3
		WHERE id = $4
	`, g.Name, g.Version, g.ContainerID, g.ID)
	if err != nil {
		return nil, fmt.Errorf("update game %d: %w", g.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	game, err := scanGame(tx.QueryRow(ctx, selectGame+` WHERE g.id = $1`, g.ID))
	if err != nil {
		return nil, fmt.Errorf("read back game %d: %w", g.ID, mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", mapError(err))
	}
	return game, nil
}

func (s *GameStore) DeleteGame(ctx context.Context, gameID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM games WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("delete game %d: %w", gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
