package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"landingzone/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Service keeps the local record of hub accounts that logged in and the
// provisioning runs they started.
type Service struct {
	db *sql.DB
}

// NewService builds a new account service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Profile is what the identity provider reports about a user.
type Profile struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// UpsertUser records a login, creating the user on first sight.
func (s *Service) UpsertUser(ctx context.Context, p Profile) (*models.User, error) {
	username := strings.TrimSpace(p.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, avatar_url = ?, last_login_at = ? WHERE username = ?`,
		p.DisplayName, p.AvatarURL, now, username,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return s.userByName(ctx, username)
	}

	res, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, avatar_url, created_at, last_login_at) VALUES (?, ?, ?, ?, ?)`,
		username, p.DisplayName, p.AvatarURL, now, now,
	)
	if err != nil {
		// lost a race with a concurrent first login
		if u, lookupErr := s.userByName(ctx, username); lookupErr == nil {
			return u, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{
		ID:          id,
		Username:    username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   now,
		LastLoginAt: now,
	}, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar_url, created_at, last_login_at FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func (s *Service) userByName(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar_url, created_at, last_login_at FROM users WHERE username = ?`, username,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
