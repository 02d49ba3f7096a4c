package admission

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newController(clock *fakeClock) *Controller {
	return NewController(map[Class]Policy{
		ClassSearch:    {Window: 5 * time.Minute, MaxRequests: 10},
		ClassTransform: {Window: 15 * time.Minute, MaxRequests: 3},
	}, clock.Now)
}

func TestAdmit_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)

	for i := 1; i <= 10; i++ {
		d := c.Admit("1.2.3.4", ClassSearch)
		require.True(t, d.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 10, d.Limit)
		assert.Equal(t, 10-i, d.Remaining)
		clock.Advance(10 * time.Second)
	}

	d := c.Admit("1.2.3.4", ClassSearch)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, 5*time.Minute-100*time.Second, d.RetryAfter)

	clock.Advance(d.RetryAfter)
	d = c.Admit("1.2.3.4", ClassSearch)
	assert.True(t, d.Allowed, "a fresh window starts once the old one expires")
	assert.Equal(t, 9, d.Remaining)
}

func TestAdmit_DeniedRequestsDoNotExtendWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)

	first := c.Admit("id", ClassTransform)
	c.Admit("id", ClassTransform)
	c.Admit("id", ClassTransform)
	for i := 0; i < 5; i++ {
		d := c.Admit("id", ClassTransform)
		assert.False(t, d.Allowed)
		assert.Equal(t, first.ResetAt, d.ResetAt)
	}
}

func TestAdmit_IdentitiesAndClassesAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newController(clock)

	for i := 0; i < 3; i++ {
		c.Admit("a", ClassTransform)
	}
	assert.False(t, c.Admit("a", ClassTransform).Allowed)
	assert.True(t, c.Admit("b", ClassTransform).Allowed)
	assert.True(t, c.Admit("a", ClassSearch).Allowed)
}

func TestAdmit_UnknownClassIsUnlimited(t *testing.T) {
	c := newController(&fakeClock{now: time.Now()})

	for i := 0; i < 100; i++ {
		d := c.Admit("a", ClassHealth)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Limit)
	}
	assert.Equal(t, 0, c.Stats().Windows)
}

func TestAdmit_InvalidPolicyIsIgnored(t *testing.T) {
	c := NewController(map[Class]Policy{ClassHealth: {Window: 0, MaxRequests: 5}}, nil)
	_, ok := c.Policy(ClassHealth)
	assert.False(t, ok)
}

func TestAdmit_ConcurrentNeverExceedsCeiling(t *testing.T) {
	c := newController(&fakeClock{now: time.Now()})
	var admitted int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Admit("shared", ClassSearch).Allowed {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), admitted)
	stats := c.Stats()
	assert.Equal(t, int64(10), stats.Allowed[ClassSearch])
	assert.Equal(t, int64(40), stats.Denied[ClassSearch])
}

func TestSweep_RemovesExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newController(clock)

	c.Admit("a", ClassSearch)
	c.Admit("b", ClassTransform)
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Stats().Windows)
}
