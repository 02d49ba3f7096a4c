package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-restyle/pipeline/domain"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	"github.com/AzielCF/az-restyle/pkg/metrics"
	"github.com/AzielCF/az-restyle/pkg/workerpool"
)

// Upload is the file part of a transform request. Size and ContentType are
// the values declared by the client; the pipeline re-checks both.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type Request struct {
	RequestID  string
	SessionID  string
	TemplateID string
	File       *Upload
}

// Result is the public outcome of one transform request.
type Result struct {
	Success          bool   `json:"success"`
	ResultURL        string `json:"result_url,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	ErrorCode        string `json:"error_code,omitempty"`
	RequestID        string `json:"request_id"`
	EditID           string `json:"edit_id,omitempty"`
}

type Config struct {
	MaxUploadBytes   int64
	TransformTimeout time.Duration
}

type Dependencies struct {
	Catalog     domain.Catalog
	Usage       domain.UsageRecorder
	Sessions    domain.SessionTracker
	Store       domain.ObjectStore
	Transformer domain.Transformer
	Records     domain.RecordRepository
	Notifier    domain.ProgressNotifier
	Normalizer  *Normalizer
	// Recorder runs the post-request bookkeeping. Without it each
	// recording gets its own goroutine.
	Recorder *workerpool.Pool
}

// Pipeline turns an upload plus a template into a transformed image:
// validate, normalize, persist source, transform, record.
type Pipeline struct {
	cfg     Config
	deps    Dependencies
	now     func() time.Time
	pending sync.WaitGroup
}

func NewPipeline(cfg Config, deps Dependencies, now func() time.Time) *Pipeline {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = 90 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	if deps.Normalizer == nil {
		deps.Normalizer = NewNormalizer(NormalizerConfig{})
	}
	return &Pipeline{cfg: cfg, deps: deps, now: now}
}

// Process runs one request to a terminal state. Validation and not-found
// errors return before any record exists. Later failures still produce a
// failed EditRecord and are reported as the returned error next to a
// non-nil Result.
//
// Caller cancellation does not stop an admitted run; only the transform
// timeout bounds it.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	startedAt := p.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	p.publish(req, domain.StateReceived)

	src, prompt, err := p.validate(ctx, req)
	if err != nil {
		p.publish(req, domain.StateFailed)
		metrics.ObserveRejection(pkgError.AsGeneric(err).ErrCode())
		return nil, err
	}
	p.publish(req, domain.StateValidated)

	record := domain.NewEditRecord(uuid.NewString(), req.RequestID, req.SessionID, req.TemplateID, startedAt)
	if err := record.Start(); err != nil {
		return nil, err
	}

	normalized, err := p.deps.Normalizer.Normalize(ctx, src)
	if err != nil {
		return p.fail(req, record, fmt.Sprintf("normalize: %v", err), err)
	}
	record.Processing.DidNormalize = normalized.DidNormalize
	record.Processing.CompressionRatio = normalized.CompressionRatio
	p.publish(req, domain.StateNormalized)

	sourceURL, err := p.deps.Store.Put(ctx, sourcePath(record, normalized.Format, startedAt), normalized.Data, normalized.ContentType)
	if err != nil {
		return p.fail(req, record, fmt.Sprintf("persist source: %v", err),
			pkgError.NewUpstreamError("source upload failed", err))
	}
	record.SourceImage = domain.ImageInfo{
		URL:      sourceURL,
		ByteSize: int64(len(normalized.Data)),
		Width:    normalized.Width,
		Height:   normalized.Height,
		Format:   normalized.Format,
	}
	p.publish(req, domain.StateSourcePersisted)

	transformCtx, cancel := context.WithTimeout(ctx, p.cfg.TransformTimeout)
	transformed, err := p.deps.Transformer.Transform(transformCtx, sourceURL, prompt)
	cancel()
	if err != nil {
		reason := fmt.Sprintf("transform via %s: %v", p.deps.Transformer.Name(), err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("transform via %s timed out after %s", p.deps.Transformer.Name(), p.cfg.TransformTimeout)
		}
		return p.fail(req, record, reason, pkgError.NewUpstreamError("transformation failed", err))
	}
	p.publish(req, domain.StateTransformed)

	result := domain.ImageInfo{
		URL:      transformed.URL,
		ByteSize: transformed.ByteSize,
		Width:    transformed.Width,
		Height:   transformed.Height,
		Format:   strings.TrimPrefix(transformed.ContentType, "image/"),
	}
	if err := record.Complete(result, p.now()); err != nil {
		return nil, err
	}
	p.publish(req, domain.StateCompleted)
	p.record(record)

	logrus.WithFields(logrus.Fields{
		"request_id":  req.RequestID,
		"template_id": req.TemplateID,
		"duration_ms": record.Processing.DurationMs,
		"normalized":  record.Processing.DidNormalize,
	}).Info("[PIPELINE] Edit completed")

	return &Result{
		Success:          true,
		ResultURL:        transformed.URL,
		ProcessingTimeMs: record.Processing.DurationMs,
		RequestID:        req.RequestID,
		EditID:           record.ID,
	}, nil
}

// validate checks the upload, decodes the pixels the normalizer will need
// and resolves the template prompt. It never touches the object store.
func (p *Pipeline) validate(ctx context.Context, req Request) (*SourceImage, string, error) {
	if req.File == nil || req.File.Open == nil {
		return nil, "", pkgError.ValidationError("file is required")
	}
	if req.File.Size > p.cfg.MaxUploadBytes {
		return nil, "", pkgError.ValidationError(fmt.Sprintf("file is %s, the limit is %s",
			humanize.IBytes(uint64(req.File.Size)), humanize.IBytes(uint64(p.cfg.MaxUploadBytes))))
	}
	if _, ok := FormatForContentType(req.File.ContentType); !ok {
		return nil, "", pkgError.ValidationError(fmt.Sprintf("content type %q is not accepted, use jpeg, png or webp", req.File.ContentType))
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, "", pkgError.ValidationError("template_id is required")
	}

	prompt, _, err := p.deps.Catalog.ResolvePrompt(ctx, req.TemplateID)
	if err != nil {
		return nil, "", err
	}

	data, err := p.readUpload(req.File)
	if err != nil {
		return nil, "", err
	}
	header, err := p.deps.Normalizer.Inspect(data)
	if err != nil {
		return nil, "", err
	}
	src, err := p.deps.Normalizer.Prepare(ctx, data, header)
	if err != nil {
		return nil, "", err
	}
	return src, prompt, nil
}

func (p *Pipeline) readUpload(file *Upload) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, pkgError.ValidationError("file could not be read")
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, pkgError.ValidationError("file could not be read")
	}
	if int64(len(data)) > p.cfg.MaxUploadBytes {
		return nil, pkgError.ValidationError(fmt.Sprintf("file exceeds the %s limit", humanize.IBytes(uint64(p.cfg.MaxUploadBytes))))
	}
	if len(data) == 0 {
		return nil, pkgError.ValidationError("file is empty")
	}
	return data, nil
}

// fail moves record to failed, schedules recording and returns cause with
// a Result carrying the public error code.
func (p *Pipeline) fail(req Request, record *domain.EditRecord, reason string, cause error) (*Result, error) {
	if err := record.Fail(reason, p.now()); err != nil {
		return nil, err
	}
	p.publish(req, domain.StateFailed)
	p.record(record)

	logrus.WithFields(logrus.Fields{
		"request_id":  req.RequestID,
		"template_id": req.TemplateID,
		"duration_ms": record.Processing.DurationMs,
	}).Warnf("[PIPELINE] Edit failed: %s", reason)

	return &Result{
		Success:          false,
		ProcessingTimeMs: record.Processing.DurationMs,
		ErrorCode:        pkgError.AsGeneric(cause).ErrCode(),
		RequestID:        req.RequestID,
		EditID:           record.ID,
	}, cause
}

// record persists the finished EditRecord and updates the template and
// session aggregates off the request path. Jobs are keyed by template so
// usage updates for one template apply in order.
func (p *Pipeline) record(record *domain.EditRecord) {
	snapshot := *record
	success := snapshot.Processing.Status == domain.StatusCompleted
	metrics.ObserveEdit(string(snapshot.Processing.Status), time.Duration(snapshot.Processing.DurationMs)*time.Millisecond)

	p.pending.Add(1)
	job := workerpool.Job{
		Key: snapshot.TemplateID,
		Handler: func(ctx context.Context) error {
			defer p.pending.Done()
			return p.persistRecord(ctx, &snapshot, success)
		},
	}

	if p.deps.Recorder != nil && p.deps.Recorder.TryDispatch(job) {
		return
	}
	// A rejected job still has to be recorded once; it loses the
	// per-template ordering but Drain keeps waiting for it.
	if p.deps.Recorder != nil {
		logrus.Warnf("[PIPELINE] Recorder queue rejected edit %s, recording it on its own goroutine", snapshot.ID)
	}
	go func() {
		if err := job.Handler(context.Background()); err != nil {
			logrus.WithError(err).Errorf("[PIPELINE] Recording edit %s failed", snapshot.ID)
		}
	}()
}

func (p *Pipeline) persistRecord(ctx context.Context, record *domain.EditRecord, success bool) error {
	var errs []error
	if p.deps.Records != nil {
		if err := p.deps.Records.Save(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("save edit record: %w", err))
		}
	}
	if p.deps.Usage != nil {
		if err := p.deps.Usage.RecordUsage(ctx, record.TemplateID, success, record.Processing.DurationMs); err != nil {
			errs = append(errs, fmt.Errorf("template usage: %w", err))
		}
	}
	if p.deps.Sessions != nil && record.SessionID != "" {
		if err := p.deps.Sessions.RecordUsage(ctx, record.SessionID, success); err != nil {
			errs = append(errs, fmt.Errorf("session usage: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Drain waits until every scheduled recording has finished.
func (p *Pipeline) Drain() {
	p.pending.Wait()
}

func (p *Pipeline) publish(req Request, state domain.State) {
	if p.deps.Notifier == nil || req.SessionID == "" {
		return
	}
	p.deps.Notifier.Publish(domain.ProgressEvent{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		State:     state,
		At:        p.now(),
	})
}

func sourcePath(record *domain.EditRecord, format string, at time.Time) string {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return path.Join("sources", at.UTC().Format("2006/01/02"), record.ID+"."+ext)
}
