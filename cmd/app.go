package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	catalogApp "github.com/AzielCF/az-restyle/catalog/application"
	catalogRepo "github.com/AzielCF/az-restyle/catalog/repository"
	"github.com/AzielCF/az-restyle/core/config"
	"github.com/AzielCF/az-restyle/core/database"
	"github.com/AzielCF/az-restyle/core/scheduler"
	"github.com/AzielCF/az-restyle/infrastructure/objectstore"
	"github.com/AzielCF/az-restyle/infrastructure/transformer"
	"github.com/AzielCF/az-restyle/infrastructure/valkey"
	pipelineApp "github.com/AzielCF/az-restyle/pipeline/application"
	pipelineRepo "github.com/AzielCF/az-restyle/pipeline/repository"
	"github.com/AzielCF/az-restyle/pkg/admission"
	"github.com/AzielCF/az-restyle/pkg/contentcache"
	"github.com/AzielCF/az-restyle/pkg/metrics"
	"github.com/AzielCF/az-restyle/pkg/utils"
	"github.com/AzielCF/az-restyle/pkg/workerpool"
	sessionApp "github.com/AzielCF/az-restyle/session/application"
	sessionDomain "github.com/AzielCF/az-restyle/session/domain"
	sessionRepo "github.com/AzielCF/az-restyle/session/repository"
	"github.com/AzielCF/az-restyle/ui/websocket"
)

// services holds every long-lived component. Each one is built here and
// handed to its consumers explicitly.
type services struct {
	cfg        *config.Config
	instanceID string
	startedAt  time.Time

	db     *gorm.DB
	valkey *valkey.Client

	templates *catalogRepo.TemplateGormRepository
	records   *pipelineRepo.EditRecordGormRepository

	cache     *contentcache.Cache[any]
	catalog   *catalogApp.CatalogService
	quotas    *admission.Controller
	ledger    *sessionApp.Ledger
	store     *objectstore.LocalStore
	recorder  *workerpool.Pool
	hub       *websocket.Hub
	pipeline  *pipelineApp.Pipeline
	scheduler *scheduler.Scheduler
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	s := &services{
		cfg:        cfg,
		instanceID: utils.GetInstanceID(cfg.App.InstanceID, cfg.Paths.Storages),
		startedAt:  time.Now(),
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	s.db = db

	s.templates = catalogRepo.NewTemplateGormRepository(db)
	s.records = pipelineRepo.NewEditRecordGormRepository(db)
	if err := migrate(ctx, s.templates, s.records); err != nil {
		return nil, err
	}

	if cfg.Database.ValkeyEnabled {
		client, err := valkey.NewClient(ctx, valkey.OptionsFromConfig(cfg.Database))
		if err != nil {
			return nil, err
		}
		s.valkey = client
		logrus.Infof("[VALKEY] Connected to %s", cfg.Database.ValkeyAddress)
	}

	s.cache = contentcache.New[any](contentcache.Options{
		Capacity:     cfg.Cache.Capacity,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		SingleFlight: cfg.Cache.SingleFlight,
	})
	s.catalog = catalogApp.NewCatalogService(s.templates, s.cache, cfg.Cache.DefaultTTL)
	s.quotas = admission.NewController(quotaPolicies(cfg.Quota), nil)

	var sessionStore sessionDomain.Store = sessionRepo.NewMemorySessionStore()
	if s.valkey != nil {
		sessionStore = sessionRepo.NewValkeySessionStore(s.valkey)
	}
	s.ledger = sessionApp.NewLedger(sessionStore, cfg.Session.Timeout, nil)

	s.store, err = objectstore.NewLocalStore(cfg.Storage.Dir, cfg.App.BaseUrl+cfg.App.BasePath, cfg.Storage.PublicPath)
	if err != nil {
		return nil, err
	}

	fetcher := transformer.NewFetcher(s.store, cfg.AI.MaxDownloadBytes)
	provider, err := transformer.New(ctx, cfg.AI, fetcher, s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s transformer: %w", cfg.AI.Provider, err)
	}

	s.hub = websocket.NewHub()
	if s.valkey != nil {
		s.hub.WithValkey(s.valkey, s.instanceID)
	}

	s.recorder = workerpool.New("recorder", cfg.Recorder.Workers, cfg.Recorder.QueueSize)
	s.pipeline = pipelineApp.NewPipeline(pipelineApp.Config{
		MaxUploadBytes:   cfg.Pipeline.MaxUploadBytes,
		TransformTimeout: cfg.Pipeline.TransformTimeout,
	}, pipelineApp.Dependencies{
		Catalog:     s.catalog,
		Usage:       s.catalog,
		Sessions:    s.ledger,
		Store:       s.store,
		Transformer: provider,
		Records:     s.records,
		Notifier:    s.hub,
		Normalizer: pipelineApp.NewNormalizer(pipelineApp.NormalizerConfig{
			MaxDimension:   cfg.Pipeline.MaxDimension,
			MaxPixels:      cfg.Pipeline.MaxPixels,
			JPEGQuality:    cfg.Pipeline.JPEGQuality,
			MinJPEGQuality: cfg.Pipeline.MinJPEGQuality,
			TargetBytes:    cfg.Pipeline.TargetBytes,
			Concurrency:    cfg.Pipeline.NormalizeConcurrency,
		}),
		Recorder: s.recorder,
	}, nil)

	s.scheduler = scheduler.New()
	if err := s.registerSweeps(); err != nil {
		return nil, err
	}
	s.registerMetrics()

	logrus.Infof("[APP] Services ready (instance %s, provider %s)", s.instanceID, provider.Name())
	return s, nil
}

func migrate(ctx context.Context, templates *catalogRepo.TemplateGormRepository, records *pipelineRepo.EditRecordGormRepository) error {
	if err := templates.Init(ctx); err != nil {
		return fmt.Errorf("failed to migrate templates: %w", err)
	}
	if err := records.Init(ctx); err != nil {
		return fmt.Errorf("failed to migrate edit records: %w", err)
	}
	return nil
}

func quotaPolicies(cfg config.QuotaConfig) map[admission.Class]admission.Policy {
	policy := func(rule config.QuotaRule) admission.Policy {
		return admission.Policy{Window: rule.Window, MaxRequests: rule.MaxRequests}
	}
	return map[admission.Class]admission.Policy{
		admission.ClassTransform:   policy(cfg.Transform),
		admission.ClassCatalogRead: policy(cfg.CatalogRead),
		admission.ClassSearch:      policy(cfg.Search),
		admission.ClassHealth:      policy(cfg.Health),
		admission.ClassFeedback:    policy(cfg.Feedback),
	}
}

// registerSweeps puts every periodic cleanup on the shared scheduler.
func (s *services) registerSweeps() error {
	cfg := s.cfg
	tasks := []struct {
		name     string
		interval time.Duration
		task     scheduler.Task
	}{
		{"cache-sweep", cfg.Cache.SweepInterval, func(context.Context) {
			if n := s.cache.Sweep(); n > 0 {
				logrus.Debugf("[CACHE] Swept %d expired entries", n)
			}
		}},
		{"quota-sweep", cfg.Quota.SweepInterval, func(context.Context) {
			if n := s.quotas.Sweep(); n > 0 {
				logrus.Debugf("[ADMISSION] Swept %d expired windows", n)
			}
		}},
		{"session-sweep", cfg.Session.SweepInterval, func(ctx context.Context) {
			n, err := s.ledger.Sweep(ctx)
			if err != nil {
				logrus.WithError(err).Warn("[SESSION] Sweep failed")
				return
			}
			if n > 0 {
				logrus.Debugf("[SESSION] Swept %d idle sessions", n)
			}
		}},
		{"orphan-sweep", cfg.Storage.SweepInterval, func(ctx context.Context) {
			s.sweepObjects(ctx, "sources", cfg.Storage.OrphanTTL)
		}},
		{"result-sweep", cfg.Storage.SweepInterval, func(ctx context.Context) {
			s.sweepObjects(ctx, "results", cfg.Storage.ResultTTL)
		}},
	}

	for _, t := range tasks {
		if err := s.scheduler.Every(t.name, t.interval, t.task); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", t.name, err)
		}
	}
	return nil
}

func (s *services) sweepObjects(ctx context.Context, prefix string, olderThan time.Duration) {
	if olderThan <= 0 {
		return
	}
	n, err := s.store.Sweep(ctx, prefix, olderThan)
	if err != nil {
		logrus.WithError(err).Warnf("[STORAGE] Sweep of %s failed", prefix)
		return
	}
	if n > 0 {
		logrus.Infof("[STORAGE] Removed %d %s older than %s", n, prefix, olderThan)
	}
}

// registerMetrics exposes component stats as scrape-time collectors.
func (s *services) registerMetrics() {
	register := func(err error) {
		if err != nil {
			logrus.WithError(err).Warn("[METRICS] Failed to register collector")
		}
	}

	register(metrics.RegisterGaugeFunc("cache", "entries", "Entries currently held by the content cache.", func() float64 {
		return float64(s.cache.Len())
	}))
	register(metrics.RegisterCounterFunc("cache", "hits_total", "Content cache hits.", func() float64 {
		return float64(s.cache.Stats().Hits)
	}))
	register(metrics.RegisterCounterFunc("cache", "misses_total", "Content cache misses.", func() float64 {
		return float64(s.cache.Stats().Misses)
	}))
	register(metrics.RegisterCounterFunc("cache", "evictions_total", "Content cache LRU evictions.", func() float64 {
		return float64(s.cache.Stats().Evictions)
	}))
	register(metrics.RegisterGaugeFunc("admission", "windows", "Open quota windows.", func() float64 {
		return float64(s.quotas.Stats().Windows)
	}))
	register(metrics.RegisterGaugeFunc("session", "active", "Usable sessions.", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := s.ledger.ActiveCount(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	}))
	register(metrics.RegisterCounterFunc("recorder", "rejected_total", "Recording jobs the queue rejected and the pipeline ran on its own goroutine.", func() float64 {
		return float64(s.recorder.GetStats().TotalRejected)
	}))
}

// start launches the background workers.
func (s *services) start(ctx context.Context) {
	s.recorder.Start(ctx)
	go s.hub.Run(ctx)
	s.scheduler.Start()
}

// stop drains in-flight recordings before closing the stores they write to.
func (s *services) stop() {
	logrus.Info("[APP] Stopping services...")
	s.scheduler.Stop()
	s.pipeline.Drain()
	s.recorder.Stop()

	if s.valkey != nil {
		s.valkey.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logrus.Info("[APP] Services stopped cleanly")
}
