package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "tesouraria:session:"

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager keeps cookie sessions in Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session state.
type Session struct {
	ID    string
	state sessionState
	// previousID is set by Rotate so Commit can drop the old key.
	previousID string
	isNew      bool
	dirty      bool
	destroyed  bool
}

type sessionState struct {
	Values  map[string]string `json:"values"`
	UserID  int64             `json:"user_id"`
	Flashes []FlashMessage    `json:"flashes"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session bound to the request cookie, or a fresh one.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return sm.fresh(), nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := sm.client.Get(ctx, sessionKeyPrefix+cookie.Value).Bytes()
	if errors.Is(err, redis.Nil) {
		// Unknown or expired id: never trust a client-chosen identifier.
		return sm.fresh(), nil
	}
	if err != nil {
		return nil, err
	}

	sess := &Session{ID: cookie.Value}
	if err := json.Unmarshal(raw, &sess.state); err != nil {
		return nil, err
	}
	if sess.state.Values == nil {
		sess.state.Values = make(map[string]string)
	}
	return sess, nil
}

// Commit persists dirty sessions and refreshes the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.client.Del(ctx, sessionKeyPrefix+sess.ID).Err(); err != nil {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	if sess.previousID != "" {
		if err := sm.client.Del(ctx, sessionKeyPrefix+sess.previousID).Err(); err != nil {
			return err
		}
		sess.previousID = ""
	}
	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sess.state)
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sessionKeyPrefix+sess.ID, data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}
	http.SetCookie(w, sm.cookie(sess.ID, int(sm.ttl.Seconds())))
	return nil
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) fresh() *Session {
	return &Session{
		ID:    uuid.NewString(),
		state: sessionState{Values: make(map[string]string)},
		isNew: true,
		dirty: true,
	}
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	s.state.Values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.state.Values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.state.Values[key]; ok {
		delete(s.state.Values, key)
		s.dirty = true
	}
}

// SetUserID binds the session to an authenticated user.
func (s *Session) SetUserID(id int64) {
	s.state.UserID = id
	s.dirty = true
}

// UserID returns the authenticated user or zero.
func (s *Session) UserID() int64 {
	return s.state.UserID
}

// Rotate issues a new identifier, keeping the stored state.
func (s *Session) Rotate() {
	if !s.isNew {
		s.previousID = s.ID
	}
	s.ID = uuid.NewString()
	s.dirty = true
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.state.Flashes = append(s.state.Flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.state.Flashes) == 0 {
		return nil
	}
	msg := s.state.Flashes[0]
	s.state.Flashes = s.state.Flashes[1:]
	s.dirty = true
	return &msg
}
