package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (user_id, token, expires, invalidated, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query, session.UserID, session.Token, session.Expires, session.CreatedAt).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("failed to create session for user %d: %w", session.UserID, mapError(err))
	}
	return nil
}

// GetSessionUser resolves a live session token to its owner. Expired and
// invalidated sessions are reported as ErrNotFound.
func (s *SessionStore) GetSessionUser(ctx context.Context, token string, now time.Time) (*models.User, error) {
	query := `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM sessions s
		INNER JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
		  AND s.expires > $2
		  AND NOT s.invalidated
	`

	u := &models.User{}
	err := s.db.QueryRow(ctx, query, token, now).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// InvalidateSession marks only this token as logged out.
func (s *SessionStore) InvalidateSession(ctx context.Context, token string) error {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET invalidated = TRUE WHERE token = $1 AND NOT invalidated`, token)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStaleSessions purges sessions that can no longer authenticate.
func (s *SessionStore) DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires <= $1 OR invalidated`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
