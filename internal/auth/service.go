package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"landingzone/internal/models"
	"landingzone/internal/redis"
)

var (
	ErrSessionRequired = errors.New("session required")
	ErrSessionInvalid  = errors.New("invalid session")
	ErrSessionExpired  = errors.New("session expired")
)

// Service issues, validates, and revokes login sessions. A session holds the
// provider access token, sealed with the token cipher.
type Service struct {
	db             *sql.DB
	cache          Cache
	cipher         *tokenCipher
	sessionTTL     time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	csrfFormField  string
	logger         *zap.Logger
}

// NewService constructs an auth service. cacheClient may be nil, in which
// case sessions are cached in process.
func NewService(db *sql.DB, cacheClient *redis.Client, ttl time.Duration, logger *zap.Logger) (*Service, error) {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		return nil, err
	}
	if cipher.ephemeral {
		logger.Warn("no " + tokenKeyEnv + " set, sessions will not survive a restart")
	}
	return &Service{
		db:             db,
		cache:          NewCache(cacheClient),
		cipher:         cipher,
		sessionTTL:     ttl,
		cookieName:     "lz_session",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		csrfFormField:  "csrf_token",
		logger:         logger,
	}, nil
}

type cachedSession struct {
	UserID      int64     `json:"user_id"`
	AccessToken string    `json:"access_token"`
	Scopes      []string  `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateSession persists a new session for the user holding tok. The session
// never outlives the access token.
func (s *Service) CreateSession(ctx context.Context, userID int64, tok *oauth2.Token, scopes []string) (*models.Session, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("access token required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.sessionTTL)
	if !tok.Expiry.IsZero() && tok.Expiry.Before(expiresAt) {
		expiresAt = tok.Expiry.UTC()
	}
	sealed, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	scopeList := strings.Join(scopes, " ")

	for i := 0; i < 5; i++ {
		id, err := generateToken()
		if err != nil {
			return nil, err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_sessions (id, user_id, access_token, scopes, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, userID, sealed, scopeList, now, expiresAt,
		)
		if err != nil {
			continue
		}
		s.cacheSession(ctx, id, cachedSession{
			UserID:      userID,
			AccessToken: sealed,
			Scopes:      scopes,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		return &models.Session{
			ID:          id,
			UserID:      userID,
			AccessToken: tok.AccessToken,
			Scopes:      scopes,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		}, nil
	}
	return nil, errors.New("could not create session")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateSession returns the live session with its access token opened.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if cs, ok := s.cachedSession(ctx, sessionID); ok {
		return s.open(ctx, sessionID, cs)
	}

	var (
		cs        cachedSession
		scopeList string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, access_token, scopes, created_at, expires_at FROM user_sessions WHERE id = ?`, sessionID,
	).Scan(&cs.UserID, &cs.AccessToken, &scopeList, &cs.CreatedAt, &cs.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	cs.Scopes = strings.Fields(scopeList)
	sess, err := s.open(ctx, sessionID, cs)
	if err != nil {
		return nil, err
	}
	s.cacheSession(ctx, sessionID, cs)
	return sess, nil
}

func (s *Service) open(ctx context.Context, sessionID string, cs cachedSession) (*models.Session, error) {
	if !time.Now().UTC().Before(cs.ExpiresAt) {
		_ = s.RevokeSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}
	accessToken, err := s.cipher.Decrypt(cs.AccessToken)
	if err != nil {
		// sealed with a key this process no longer has
		_ = s.RevokeSession(ctx, sessionID)
		return nil, ErrSessionInvalid
	}
	return &models.Session{
		ID:          sessionID,
		UserID:      cs.UserID,
		AccessToken: accessToken,
		Scopes:      cs.Scopes,
		CreatedAt:   cs.CreatedAt,
		ExpiresAt:   cs.ExpiresAt,
	}, nil
}

// RevokeSession deletes a single session.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	s.evict(ctx, sessionID)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeUserSessions removes all sessions belonging to the user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM user_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		s.evict(ctx, id)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *Service) cacheSession(ctx context.Context, sessionID string, cs cachedSession) {
	ttl := time.Until(cs.ExpiresAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, redis.SessionKey(sessionID), string(raw), ttl); err != nil {
		s.logger.Warn("cache session failed", zap.Error(err))
	}
}

func (s *Service) cachedSession(ctx context.Context, sessionID string) (cachedSession, bool) {
	var cs cachedSession
	raw, err := s.cache.Get(ctx, redis.SessionKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("read session cache failed", zap.Error(err))
		}
		return cs, false
	}
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return cs, false
	}
	return cs, true
}

func (s *Service) evict(ctx context.Context, sessionID string) {
	if err := s.cache.Del(ctx, redis.SessionKey(sessionID)); err != nil {
		s.logger.Warn("evict session failed", zap.Error(err))
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie name storing the session id.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFormField returns the form field HTML forms submit the CSRF token in.
func (s *Service) CSRFFormField() string {
	return s.csrfFormField
}

// SessionTTL reports the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}
