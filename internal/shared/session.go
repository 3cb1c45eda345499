package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager stores opaque bearer sessions in Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session is the server-side state behind a bearer token.
type Session struct {
	ID        string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	IPAddress string    `json:"ip,omitempty"`
	UserAgent string    `json:"ua,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// User returns the session user id as a string.
func (s *Session) User() string {
	if s == nil || s.UserID <= 0 {
		return ""
	}
	return strconv.FormatInt(s.UserID, 10)
}

// ErrSessionNotFound indicates an unknown or expired token.
var ErrSessionNotFound = NewError(KindUnauthorized, "SESSION_EXPIRED", "session expired or invalid")

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Create persists a new session for the user and returns it with a fresh token.
func (sm *SessionManager) Create(ctx context.Context, userID int64, email, ip, ua string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.ttl),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	pipe := sm.client.TxPipeline()
	pipe.Set(ctx, sm.redisKey(sess.ID), payload, sm.ttl)
	pipe.SAdd(ctx, sm.userKey(userID), sess.ID)
	pipe.Expire(ctx, sm.userKey(userID), sm.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load resolves a token into its session.
func (sm *SessionManager) Load(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, err
	}
	sess.ID = token
	return &sess, nil
}

// Destroy removes a single session.
func (sm *SessionManager) Destroy(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	pipe := sm.client.TxPipeline()
	pipe.Del(ctx, sm.redisKey(sess.ID))
	pipe.SRem(ctx, sm.userKey(sess.UserID), sess.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// DestroyAll removes every session of a user, e.g. after the account is disabled.
func (sm *SessionManager) DestroyAll(ctx context.Context, userID int64) error {
	ids, err := sm.client.SMembers(ctx, sm.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sm.redisKey(id))
	}
	keys = append(keys, sm.userKey(userID))
	return sm.client.Del(ctx, keys...).Err()
}

// TokenFromRequest reads the bearer token from the Authorization header or
// the session cookie.
func (sm *SessionManager) TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(sm.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// WriteCookie mirrors the token into an HttpOnly cookie for browser clients.
func (sm *SessionManager) WriteCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
}

// ClearCookie expires the session cookie.
func (sm *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) userKey(userID int64) string {
	return "session:user:" + strconv.FormatInt(userID, 10)
}
