package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-restyle/session/domain"
	"github.com/AzielCF/az-restyle/session/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newLedger(timeout time.Duration) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewLedger(repository.NewMemorySessionStore(), timeout, clock.Now), clock
}

func TestLedger_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(30 * time.Minute)

	sess, err := ledger.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	ok, err := ledger.Touch(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok, "touch inside the timeout keeps the session alive")

	clock.Advance(29 * time.Minute)
	got, err := ledger.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "the previous touch extended the session")

	clock.Advance(30 * time.Minute)
	ok, err = ledger.Touch(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = ledger.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_UnknownSessionIsNotAnError(t *testing.T) {
	ledger, _ := newLedger(time.Minute)

	got, err := ledger.Get(context.Background(), "does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, ledger.End(context.Background(), "does-not-exist"))
	assert.NoError(t, ledger.RecordUsage(context.Background(), "does-not-exist", true))
}

func TestLedger_ResolveMintsWhenExpired(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(time.Minute)

	first, created, err := ledger.Resolve(ctx, "", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "203.0.113.9", first.IdentityRef)

	same, created, err := ledger.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, same.ID)

	clock.Advance(2 * time.Minute)
	fresh, created, err := ledger.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, fresh.ID)
}

func TestLedger_EndRemovesSession(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(time.Minute)

	sess, err := ledger.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	require.NoError(t, ledger.End(ctx, sess.ID))

	got, err := ledger.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_PreferencesAndUsage(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(time.Hour)

	sess, err := ledger.CreateSession(ctx, "", map[string]string{"theme": "dark"})
	require.NoError(t, err)

	updated, err := ledger.UpdatePreferences(ctx, sess.ID, map[string]string{"style": "anime"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"style": "anime"}, updated.Preferences)

	require.NoError(t, ledger.RecordUsage(ctx, sess.ID, true))
	require.NoError(t, ledger.RecordUsage(ctx, sess.ID, false))

	got, err := ledger.Peek(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.EditCount)
	assert.Equal(t, int64(1), got.SuccessCount)
}

func TestLedger_SweepAndActiveCount(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(10 * time.Minute)

	old, err := ledger.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	clock.Advance(8 * time.Minute)
	_, err = ledger.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	count, err := ledger.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	clock.Advance(3 * time.Minute)
	removed, err := ledger.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err = ledger.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := ledger.Peek(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_ConcurrentUsageIsNotLost(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(time.Hour)

	sess, err := ledger.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ledger.RecordUsage(ctx, sess.ID, true))
		}()
	}
	wg.Wait()

	got, err := ledger.Peek(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.EditCount)
}

type failingStore struct{ domain.Store }

func (failingStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return nil, errors.New("valkey down")
}

func TestLedger_StoreErrorsPropagate(t *testing.T) {
	ledger := NewLedger(failingStore{repository.NewMemorySessionStore()}, time.Minute, nil)

	_, err := ledger.Get(context.Background(), "abc")
	assert.Error(t, err)

	_, _, err = ledger.Resolve(context.Background(), "abc", "")
	assert.Error(t, err)
}
