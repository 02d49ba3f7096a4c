package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	catalogApp "github.com/AzielCF/az-restyle/catalog/application"
	catalogDomain "github.com/AzielCF/az-restyle/catalog/domain"
	catalogRepo "github.com/AzielCF/az-restyle/catalog/repository"
	pipelineApp "github.com/AzielCF/az-restyle/pipeline/application"
	pipelineDomain "github.com/AzielCF/az-restyle/pipeline/domain"
	pipelineRepo "github.com/AzielCF/az-restyle/pipeline/repository"
	"github.com/AzielCF/az-restyle/pkg/admission"
	"github.com/AzielCF/az-restyle/pkg/contentcache"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	sessionApp "github.com/AzielCF/az-restyle/session/application"
	sessionRepo "github.com/AzielCF/az-restyle/session/repository"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
)

type fakeProcessor struct {
	mu     sync.Mutex
	last   pipelineApp.Request
	result *pipelineApp.Result
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, req pipelineApp.Request) (*pipelineApp.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.result != nil {
		res := *f.result
		res.RequestID = req.RequestID
		return &res, f.err
	}
	return nil, f.err
}

type testServer struct {
	app       *fiber.App
	ledger    *sessionApp.Ledger
	processor *fakeProcessor
}

// serverOptions swaps parts of the test server for production ones.
type serverOptions struct {
	bodyLimit int
	processor func(catalog *catalogApp.CatalogService) Processor
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, serverOptions{})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "restyle.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	templates := catalogRepo.NewTemplateGormRepository(db)
	require.NoError(t, templates.Init(ctx))
	records := pipelineRepo.NewEditRecordGormRepository(db)
	require.NoError(t, records.Init(ctx))

	cache := contentcache.New[any](contentcache.Options{Capacity: 64, DefaultTTL: time.Minute})
	catalog := catalogApp.NewCatalogService(templates, cache, time.Minute)
	require.NoError(t, catalog.Upsert(ctx, &catalogDomain.Template{
		ID: "watercolor", Name: "Watercolor", Category: "paint", Prompt: "paint it in watercolor",
		Tags: []string{"soft"}, IsActive: true,
	}))

	quotas := admission.NewController(map[admission.Class]admission.Policy{
		admission.ClassTransform:   {Window: 15 * time.Minute, MaxRequests: 10},
		admission.ClassCatalogRead: {Window: time.Minute, MaxRequests: 120},
		admission.ClassSearch:      {Window: 5 * time.Minute, MaxRequests: 10},
		admission.ClassHealth:      {Window: time.Minute, MaxRequests: 60},
		admission.ClassFeedback:    {Window: time.Hour, MaxRequests: 20},
	}, nil)
	ledger := sessionApp.NewLedger(sessionRepo.NewMemorySessionStore(), 30*time.Minute, nil)
	processor := &fakeProcessor{}
	var transform Processor = processor
	if opts.processor != nil {
		transform = opts.processor(catalog)
	}
	if opts.bodyLimit == 0 {
		opts.bodyLimit = 32 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{BodyLimit: opts.bodyLimit, ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.Recovery())
	api := app.Group("/api")
	sessions := middleware.Session(ledger)

	InitRestCatalog(api, catalog, quotas)
	InitRestTransform(api, transform, quotas, sessions)
	InitRestSession(api, ledger, records, quotas, sessions)
	InitRestHealth(api, &Health{
		Version:   "test",
		StartedAt: time.Now().Add(-time.Hour),
		Sessions:  ledger,
		Cache:     cache,
		Quotas:    quotas,
		Checks: map[string]Check{
			"database": func(context.Context) error { return nil },
			"valkey":   func(context.Context) error { return errors.New("refused") },
		},
	})

	return &testServer{app: app, ledger: ledger, processor: processor}
}

type envelope struct {
	Success      bool            `json:"success"`
	Code         string          `json:"code"`
	Error        string          `json:"error"`
	Results      json.RawMessage `json:"results"`
	RetryAfterMs int64           `json:"retry_after_ms"`
}

func (s *testServer) do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp, body
}

func multipartUpload(t *testing.T, templateID string, data []byte, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if templateID != "" {
		require.NoError(t, w.WriteField("template_id", templateID))
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="photo.png"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, "120", resp.Header.Get(middleware.HeaderRateLimitLimit))
	assert.Equal(t, "119", resp.Header.Get(middleware.HeaderRateLimitRemaining))
	assert.NotEmpty(t, resp.Header.Get(middleware.HeaderRateLimitReset))
	assert.NotContains(t, string(body.Results), "paint it in watercolor")

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates/watercolor", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Results), `"id":"watercolor"`)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates/categories", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["paint"]`, string(body.Results))

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates/category/paint", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Results), "watercolor")

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates/popular?limit=5", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Results), "watercolor")

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, "NotFoundError", body.Code)
}

func TestSearchQuotaRejectsEleventhCall(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 10; i++ {
		resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/search?q=water", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode, "call %d", i+1)
		require.True(t, body.Success)
	}

	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/search?q=water", nil))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, "QuotaExceededError", body.Code)
	assert.Greater(t, body.RetryAfterMs, int64(0))
	assert.LessOrEqual(t, body.RetryAfterMs, (5 * time.Minute).Milliseconds())
	assert.Equal(t, "0", resp.Header.Get(middleware.HeaderRateLimitRemaining))

	retryAfter, err := strconv.Atoi(resp.Header.Get(fiber.HeaderRetryAfter))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)

	// other classes keep their own windows
	resp, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/search?q=%20", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidationError", body.Code)
}

func TestRating(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/templates/watercolor/rating", strings.NewReader(`{"rating":4}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body := s.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var usage catalogDomain.TemplateUsage
	require.NoError(t, json.Unmarshal(body.Results, &usage))
	assert.Equal(t, 4.0, usage.AvgRating)
	assert.Equal(t, int64(1), usage.RatingCount)
	assert.InDelta(t, 24.0, usage.PopularityScore, 1e-9)

	req = httptest.NewRequest(http.MethodPost, "/api/templates/watercolor/rating", strings.NewReader(`{"rating":9}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidationError", body.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/templates/missing/rating", strings.NewReader(`{"rating":3}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body = s.do(t, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFoundError", body.Code)
}

func TestTransformEchoesSession(t *testing.T) {
	s := newTestServer(t)
	s.processor.result = &pipelineApp.Result{Success: true, ResultURL: "http://localhost/objects/results/x.png", ProcessingTimeMs: 12}

	buf, contentType := multipartUpload(t, "watercolor", []byte("png-bytes"), "image/png")
	req := httptest.NewRequest(http.MethodPost, "/api/transform", buf)
	req.Header.Set("Content-Type", contentType)
	resp, body := s.do(t, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	minted := resp.Header.Get(middleware.HeaderSessionID)
	require.NotEmpty(t, minted)
	assert.Equal(t, "true", resp.Header.Get("X-Session-Created"))

	s.processor.mu.Lock()
	last := s.processor.last
	s.processor.mu.Unlock()
	assert.Equal(t, minted, last.SessionID)
	assert.Equal(t, "watercolor", last.TemplateID)
	assert.NotEmpty(t, last.RequestID)
	require.NotNil(t, last.File)
	assert.Equal(t, "image/png", last.File.ContentType)
	assert.Equal(t, int64(len("png-bytes")), last.File.Size)

	var result pipelineApp.Result
	require.NoError(t, json.Unmarshal(body.Results, &result))
	assert.Equal(t, "http://localhost/objects/results/x.png", result.ResultURL)

	// the same session is reused when it is sent back
	buf, contentType = multipartUpload(t, "watercolor", []byte("png-bytes"), "image/png")
	req = httptest.NewRequest(http.MethodPost, "/api/transform", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.HeaderSessionID, minted)
	resp, _ = s.do(t, req)
	assert.Equal(t, minted, resp.Header.Get(middleware.HeaderSessionID))
	assert.Empty(t, resp.Header.Get("X-Session-Created"))
}

func TestTransformUpstreamFailure(t *testing.T) {
	s := newTestServer(t)
	s.processor.result = &pipelineApp.Result{Success: false, ErrorCode: "UpstreamError", ProcessingTimeMs: 90000}
	s.processor.err = pkgError.NewUpstreamError("transformation failed", context.DeadlineExceeded)

	buf, contentType := multipartUpload(t, "watercolor", []byte("png-bytes"), "image/png")
	req := httptest.NewRequest(http.MethodPost, "/api/transform", buf)
	req.Header.Set("Content-Type", contentType)
	resp, body := s.do(t, req)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, "UpstreamError", body.Code)
	assert.NotContains(t, body.Error, "deadline")

	var result pipelineApp.Result
	require.NoError(t, json.Unmarshal(body.Results, &result))
	assert.False(t, result.Success)
	assert.Equal(t, "UpstreamError", result.ErrorCode)
}

func TestTransformWithoutFile(t *testing.T) {
	s := newTestServer(t)
	s.processor.err = pkgError.ValidationError("file is required")

	buf, contentType := multipartUpload(t, "watercolor", nil, "")
	req := httptest.NewRequest(http.MethodPost, "/api/transform", buf)
	req.Header.Set("Content-Type", contentType)
	resp, body := s.do(t, req)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidationError", body.Code)
	assert.Nil(t, s.processor.last.File)
}

type countingStore struct {
	mu   sync.Mutex
	puts int
}

func (c *countingStore) Put(_ context.Context, pathHint string, _ []byte, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	return "http://localhost/objects/" + pathHint, nil
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

type stubTransformer struct{}

func (stubTransformer) Name() string { return "stub" }

func (stubTransformer) Transform(_ context.Context, _, _ string) (pipelineDomain.TransformedImage, error) {
	return pipelineDomain.TransformedImage{URL: "http://localhost/objects/results/x.jpg", ContentType: "image/jpeg"}, nil
}

func TestTransformOversizedUploadAtProductionBodyLimit(t *testing.T) {
	const maxUpload = 10 * 1024 * 1024
	store := &countingStore{}
	var pipeline *pipelineApp.Pipeline
	s := newTestServerWith(t, serverOptions{
		bodyLimit: UploadBodyLimit(maxUpload),
		processor: func(catalog *catalogApp.CatalogService) Processor {
			pipeline = pipelineApp.NewPipeline(pipelineApp.Config{MaxUploadBytes: maxUpload, TransformTimeout: time.Second}, pipelineApp.Dependencies{
				Catalog:     catalog,
				Store:       store,
				Transformer: stubTransformer{},
			}, nil)
			return pipeline
		},
	})

	buf, contentType := multipartUpload(t, "watercolor", make([]byte, 12*1024*1024), "image/jpeg")
	req := httptest.NewRequest(http.MethodPost, "/api/transform", buf)
	req.Header.Set("Content-Type", contentType)
	resp, body := s.do(t, req)
	pipeline.Drain()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, "ValidationError", body.Code)
	assert.Contains(t, body.Error, "limit")
	assert.Equal(t, 0, store.count())
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(middleware.HeaderSessionID)
	require.NotEmpty(t, id)
	assert.Contains(t, string(body.Results), id)

	req := httptest.NewRequest(http.MethodPut, "/api/session/preferences", strings.NewReader(`{"preferences":{"output.format":"png"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderSessionID, id)
	resp, body = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Results), `"output.format":"png"`)

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(middleware.HeaderSessionID, id)
	resp, body = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body.Results))

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set(middleware.HeaderSessionID, id)
	resp, _ = s.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, err := s.ledger.Peek(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, sess)

	resp, body = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidationError", body.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(middleware.HeaderRateLimitLimit))

	var report struct {
		Status         string            `json:"status"`
		ActiveSessions int               `json:"active_sessions"`
		Collaborators  map[string]string `json:"collaborators"`
	}
	require.NoError(t, json.Unmarshal(body.Results, &report))
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, 1, report.ActiveSessions)
	assert.Equal(t, "up", report.Collaborators["database"])
	assert.Equal(t, "down", report.Collaborators["valkey"])
}
