package domain

import (
	"context"
	"time"
)

// Session tracks one anonymous caller across requests. It is usable only
// while IsActive and its last activity is within the idle timeout.
type Session struct {
	ID             string            `json:"session_id"`
	IdentityRef    string            `json:"identity_ref,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	IsActive       bool              `json:"is_active"`
	Preferences    map[string]string `json:"preferences,omitempty"`
	EditCount      int64             `json:"edit_count"`
	SuccessCount   int64             `json:"success_count"`
}

// Usable reports whether the session may still be used at now.
func (s *Session) Usable(now time.Time, timeout time.Duration) bool {
	return s.IsActive && now.Sub(s.LastActivityAt) < timeout
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Preferences != nil {
		c.Preferences = make(map[string]string, len(s.Preferences))
		for k, v := range s.Preferences {
			c.Preferences[k] = v
		}
	}
	return &c
}

// Store persists sessions. Get returns (nil, nil) when the id is unknown.
// ttl is a hint for backends with native expiry; the ledger still applies
// its own idle check.
type Store interface {
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
