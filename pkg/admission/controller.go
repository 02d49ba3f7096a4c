package admission

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Class names an operation class with its own quota.
type Class string

const (
	ClassTransform   Class = "transform"
	ClassCatalogRead Class = "catalog-read"
	ClassSearch      Class = "search"
	ClassHealth      Class = "health"
	ClassFeedback    Class = "feedback"
)

// Policy is a fixed-window ceiling: at most MaxRequests per Window.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Decision is the outcome of one admission check. Limit is 0 for classes
// without a policy.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Stats reports the live window count and cumulative outcomes per class.
type Stats struct {
	Windows int             `json:"windows"`
	Allowed map[Class]int64 `json:"allowed"`
	Denied  map[Class]int64 `json:"denied"`
}

// Controller enforces per-identity, per-class fixed-window quotas. All state
// is behind one mutex so concurrent requests for the same identity never
// admit more than the ceiling.
type Controller struct {
	mu       sync.Mutex
	policies map[Class]Policy
	windows  map[string]*window
	allowed  map[Class]int64
	denied   map[Class]int64
	now      func() time.Time
}

func NewController(policies map[Class]Policy, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	valid := make(map[Class]Policy, len(policies))
	for class, policy := range policies {
		if policy.Window <= 0 || policy.MaxRequests <= 0 {
			logrus.Warnf("[ADMISSION] Ignoring invalid policy for %s: %d/%s", class, policy.MaxRequests, policy.Window)
			continue
		}
		valid[class] = policy
	}
	return &Controller{
		policies: valid,
		windows:  make(map[string]*window),
		allowed:  make(map[Class]int64),
		denied:   make(map[Class]int64),
		now:      now,
	}
}

// Policy returns the configured policy for class.
func (c *Controller) Policy(class Class) (Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.policies[class]
	return p, ok
}

// Admit counts one request for identity under class. A denied request does
// not consume quota.
func (c *Controller) Admit(identity string, class Class) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	policy, ok := c.policies[class]
	if !ok {
		c.allowed[class]++
		return Decision{Allowed: true}
	}

	now := c.now()
	key := windowKey(identity, class)
	w, exists := c.windows[key]

	if !exists || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(policy.Window)}
		c.windows[key] = w
		c.allowed[class]++
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count < policy.MaxRequests {
		w.count++
		c.allowed[class]++
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - w.count,
			ResetAt:   w.resetAt,
		}
	}

	c.denied[class]++
	retryAfter := w.resetAt.Sub(now)
	logrus.Debugf("[ADMISSION] Denied %s for %s, retry in %s", class, identity, retryAfter)
	return Decision{
		Allowed:    false,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetAt:    w.resetAt,
		RetryAfter: retryAfter,
	}
}

// Sweep deletes expired windows and returns how many were removed.
func (c *Controller) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
			removed++
		}
	}
	if removed > 0 {
		logrus.Debugf("[ADMISSION] Swept %d expired windows, %d remaining", removed, len(c.windows))
	}
	return removed
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Windows: len(c.windows),
		Allowed: make(map[Class]int64, len(c.allowed)),
		Denied:  make(map[Class]int64, len(c.denied)),
	}
	for class, n := range c.allowed {
		stats.Allowed[class] = n
	}
	for class, n := range c.denied {
		stats.Denied[class] = n
	}
	return stats
}

func windowKey(identity string, class Class) string {
	return string(class) + "|" + identity
}
