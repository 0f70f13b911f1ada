// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session stores the reference to the identity backend session in a
// signed cookie.
package session

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"github.com/gorilla/securecookie"
)

// Data is the cookie payload.
type Data struct {
	ExpiresAt   time.Time `json:"exp"`
	AccessToken string    `json:"tok"`
	UserID      string    `json:"uid"`
	Email       string    `json:"email"`
	Role        string    `json:"role,omitempty"`
}

// Session returns the identity session referenced by the cookie. It has not
// been validated against the backend.
func (d *Data) Session() *identity.Session {
	return &identity.Session{
		AccessToken: d.AccessToken,
		UserID:      d.UserID,
		Email:       d.Email,
		Role:        d.Role,
		ExpiresAt:   d.ExpiresAt,
	}
}

// Manager creates, parses and clears session cookies.
type Manager struct {
	sc     *securecookie.SecureCookie
	name   string
	maxAge int
	secure bool
}

// NewManager creates a session manager. Keys are hex encoded 32 byte values;
// an empty hash key is replaced by a random one, which invalidates sessions
// on restart.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey, "hash")
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		slog.Warn("session_hash_key_generated", "hint", "set --session-hash-key to keep sessions across restarts")
		hashKey = securecookie.GenerateRandomKey(32)
	}

	blockKey, err := decodeKey(cfg.BlockKey, "block")
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(cfg.MaxAge)
	sc.SetSerializer(securecookie.JSONEncoder{})

	return &Manager{
		sc:     sc,
		name:   cfg.CookieName,
		maxAge: cfg.MaxAge,
		secure: secure,
	}, nil
}

func decodeKey(value, kind string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid session %s key: %w", kind, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid session %s key: must be 32 bytes, got %d", kind, len(key))
	}
	return key, nil
}

// Create returns a cookie referencing s. The cookie never outlives s.
func (m *Manager) Create(s *identity.Session) (*http.Cookie, error) {
	if s == nil || s.AccessToken == "" {
		return nil, identity.ErrNoSession
	}

	now := time.Now()
	maxAge := m.maxAge
	if !s.ExpiresAt.IsZero() {
		remaining := int(s.ExpiresAt.Sub(now) / time.Second)
		if remaining <= 0 {
			return nil, identity.ErrNoSession
		}
		maxAge = min(maxAge, remaining)
	}

	data := &Data{
		AccessToken: s.AccessToken,
		UserID:      s.UserID,
		Email:       s.Email,
		Role:        s.Role,
		ExpiresAt:   now.Add(time.Duration(maxAge) * time.Second),
	}
	encoded, err := m.sc.Encode(m.name, data)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}

	return m.cookie(encoded, maxAge), nil
}

// Parse returns the session data of r, or nil when the cookie is missing,
// tampered with or expired.
func (m *Manager) Parse(r *http.Request) *Data {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return nil
	}

	var data Data
	if err := m.sc.Decode(m.name, cookie.Value, &data); err != nil {
		return nil
	}
	if !time.Now().Before(data.ExpiresAt) || data.AccessToken == "" {
		return nil
	}
	return &data
}

// Clear returns a cookie that removes the session cookie.
func (m *Manager) Clear() *http.Cookie {
	return m.cookie("", -1)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
