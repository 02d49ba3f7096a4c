package rest

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-restyle/pkg/admission"
	"github.com/AzielCF/az-restyle/pkg/contentcache"
	"github.com/AzielCF/az-restyle/pkg/utils"
	"github.com/AzielCF/az-restyle/pkg/workerpool"
	"github.com/AzielCF/az-restyle/session/application"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
)

const checkTimeout = 2 * time.Second

// Check probes one collaborator. A nil error means healthy.
type Check func(ctx context.Context) error

type Health struct {
	Version   string
	StartedAt time.Time
	Sessions  *application.Ledger
	Cache     *contentcache.Cache[any]
	Quotas    *admission.Controller
	Recorder  *workerpool.Pool
	Checks    map[string]Check
	Tasks     func() []string
}

type healthReport struct {
	Status         string                `json:"status"`
	Version        string                `json:"version"`
	Uptime         string                `json:"uptime"`
	StartedAt      time.Time             `json:"started_at"`
	ActiveSessions int                   `json:"active_sessions"`
	CacheSize      int                   `json:"cache_size"`
	Cache          contentcache.Stats    `json:"cache"`
	Quotas         admission.Stats       `json:"quotas"`
	Recorder       *workerpool.PoolStats `json:"recorder,omitempty"`
	Collaborators  map[string]string     `json:"collaborators"`
	ScheduledTasks []string              `json:"scheduled_tasks,omitempty"`
}

// InitRestHealth mounts GET /health under its own quota class so probes never
// consume transform quota.
func InitRestHealth(app fiber.Router, handler *Health) *Health {
	app.Get("/health", middleware.Admission(handler.Quotas, admission.ClassHealth, nil), handler.GetStatus)
	return handler
}

func (handler *Health) GetStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	active, err := handler.Sessions.ActiveCount(ctx)
	utils.PanicIfNeeded(err)

	report := healthReport{
		Status:         "ok",
		Version:        handler.Version,
		Uptime:         strings.TrimSpace(humanize.RelTime(handler.StartedAt, time.Now(), "", "")),
		StartedAt:      handler.StartedAt,
		ActiveSessions: active,
		CacheSize:      handler.Cache.Len(),
		Cache:          handler.Cache.Stats(),
		Quotas:         handler.Quotas.Stats(),
		Collaborators:  map[string]string{},
	}
	if handler.Recorder != nil {
		stats := handler.Recorder.GetStats()
		report.Recorder = &stats
	}
	if handler.Tasks != nil {
		report.ScheduledTasks = handler.Tasks()
	}

	for name, check := range handler.Checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := check(checkCtx); err != nil {
			report.Collaborators[name] = "down"
			report.Status = "degraded"
		} else {
			report.Collaborators[name] = "up"
		}
		cancel()
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Success: true,
		Code:    "SUCCESS",
		Message: "Service is running",
		Results: report,
	})
}
