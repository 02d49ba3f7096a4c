package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Task is a periodic maintenance job such as a cache TTL sweep.
type Task func(ctx context.Context)

// Scheduler is the process-wide timer every background sweep registers
// with. Each task runs on its own fixed interval; a run that is still in
// progress when the next tick fires is skipped instead of stacked.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	started bool
}

// New creates a stopped scheduler.
func New() *Scheduler {
	cronLogger := cron.PrintfLogger(logrus.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Every registers task under name to run every interval. Intervals below
// one second are rounded up by cron.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval for %s must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("scheduler: task %s already registered", name)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		start := time.Now()
		task(s.ctx)
		logrus.Debugf("[SCHEDULER] %s finished in %s", name, time.Since(start))
	}))
	s.entries[name] = id
	logrus.Infof("[SCHEDULER] Registered %s every %s", name, interval)
	return nil
}

// Remove unregisters a task. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Tasks returns the registered task names, sorted.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running registered tasks in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels the task context and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.cron.Stop().Done()
	}
	logrus.Info("[SCHEDULER] Stopped")
}
