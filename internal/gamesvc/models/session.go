package models

import "time"

type Session struct {
	ID          int64     `json:"id"`      // Primary key
	UserID      int64     `json:"user_id"` // FK to users(id)
	Token       string    `json:"-"`       // Opaque bearer token, unique
	Expires     time.Time `json:"expires"`
	Invalidated bool      `json:"invalidated"` // set on logout
	CreatedAt   time.Time `json:"created_at"`
}
