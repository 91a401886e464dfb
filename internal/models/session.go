package models

import "time"

// Session is a logged-in browser session bound to a hub account.
type Session struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	AccessToken string    `json:"-"`
	Scopes      []string  `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
