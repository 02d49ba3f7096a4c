package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-restyle/session/domain"
)

// Ledger owns session lifecycle on top of a Store. Read-modify-write
// sequences are serialized by one mutex, which the idle sweep also takes.
type Ledger struct {
	mu      sync.Mutex
	store   domain.Store
	timeout time.Duration
	now     func() time.Time
}

func NewLedger(store domain.Store, timeout time.Duration, now func() time.Time) *Ledger {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, timeout: timeout, now: now}
}

// Timeout is the idle period after which a session is no longer usable.
func (l *Ledger) Timeout() time.Duration {
	return l.timeout
}

// CreateSession mints a fresh active session.
func (l *Ledger) CreateSession(ctx context.Context, identityRef string, preferences map[string]string) (*domain.Session, error) {
	now := l.now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		IdentityRef:    identityRef,
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
		Preferences:    copyPreferences(preferences),
	}

	if err := l.store.Save(ctx, sess, l.timeout); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logrus.Debugf("[SESSION] Created %s", sess.ID)
	return sess.Clone(), nil
}

// Get returns the session if it is still usable and refreshes its
// activity. Unknown or idle sessions yield (nil, nil).
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.loadUsableLocked(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	sess.LastActivityAt = l.now()
	if err := l.store.Save(ctx, sess, l.timeout); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess.Clone(), nil
}

// Peek returns a usable session without refreshing it.
func (l *Ledger) Peek(ctx context.Context, id string) (*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadUsableLocked(ctx, id)
}

// Touch refreshes lastActivityAt and reports whether the session is usable.
func (l *Ledger) Touch(ctx context.Context, id string) (bool, error) {
	sess, err := l.Get(ctx, id)
	return sess != nil, err
}

// Resolve returns the usable session for id, minting a new one when id is
// empty, unknown or idle. The boolean reports whether a session was minted.
func (l *Ledger) Resolve(ctx context.Context, id, identityRef string) (*domain.Session, bool, error) {
	if id != "" {
		sess, err := l.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if sess != nil {
			return sess, false, nil
		}
	}
	sess, err := l.CreateSession(ctx, identityRef, nil)
	return sess, err == nil, err
}

// End deactivates and removes the session. Unknown ids are ignored.
func (l *Ledger) End(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	logrus.Debugf("[SESSION] Ended %s", id)
	return nil
}

// UpdatePreferences replaces the preference snapshot. It returns nil when
// the session is not usable.
func (l *Ledger) UpdatePreferences(ctx context.Context, id string, preferences map[string]string) (*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.loadUsableLocked(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	sess.Preferences = copyPreferences(preferences)
	sess.LastActivityAt = l.now()
	if err := l.store.Save(ctx, sess, l.timeout); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return sess.Clone(), nil
}

// RecordUsage counts one pipeline run against the session. Sessions that
// expired while the run was in flight are left alone.
func (l *Ledger) RecordUsage(ctx context.Context, id string, success bool) error {
	if id == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.loadUsableLocked(ctx, id)
	if err != nil || sess == nil {
		return err
	}
	sess.EditCount++
	if success {
		sess.SuccessCount++
	}
	sess.LastActivityAt = l.now()
	if err := l.store.Save(ctx, sess, l.timeout); err != nil {
		return fmt.Errorf("record session usage: %w", err)
	}
	return nil
}

// ActiveCount returns the number of usable sessions.
func (l *Ledger) ActiveCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := l.now()
	count := 0
	for _, sess := range sessions {
		if sess.Usable(now, l.timeout) {
			count++
		}
	}
	return count, nil
}

// Sweep marks idle sessions inactive and removes them from the store.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := l.now()
	removed := 0
	for _, sess := range sessions {
		if sess.Usable(now, l.timeout) {
			continue
		}
		sess.IsActive = false
		if err := l.store.Delete(ctx, sess.ID); err != nil {
			logrus.WithError(err).Warnf("[SESSION] Failed to remove idle session %s", sess.ID)
			continue
		}
		removed++
	}
	if removed > 0 {
		logrus.Infof("[SESSION] Sweep removed %d idle sessions", removed)
	}
	return removed, nil
}

func (l *Ledger) loadUsableLocked(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.Usable(l.now(), l.timeout) {
		return nil, nil
	}
	return sess, nil
}

func copyPreferences(prefs map[string]string) map[string]string {
	if len(prefs) == 0 {
		return nil
	}
	out := make(map[string]string, len(prefs))
	for k, v := range prefs {
		out[k] = v
	}
	return out
}
