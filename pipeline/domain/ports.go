package domain

import (
	"context"
	"time"
)

// Catalog resolves a template id to its style prompt. Unknown ids yield a
// NotFoundError.
type Catalog interface {
	ResolvePrompt(ctx context.Context, templateID string) (prompt string, category string, err error)
}

// UsageRecorder receives edit outcomes for template aggregates.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, templateID string, success bool, durationMs int64) error
}

// SessionTracker counts edits against the caller session.
type SessionTracker interface {
	RecordUsage(ctx context.Context, sessionID string, success bool) error
}

// ObjectStore persists bytes and returns a retrievable URL.
type ObjectStore interface {
	Put(ctx context.Context, pathHint string, data []byte, contentType string) (string, error)
}

// TransformedImage is what the transformation service hands back.
type TransformedImage struct {
	URL         string
	ByteSize    int64
	ContentType string
	Width       int
	Height      int
}

// Transformer calls the external image-editing service. Calls can take
// seconds and must honor ctx.
type Transformer interface {
	Transform(ctx context.Context, sourceURL, prompt string) (TransformedImage, error)
	Name() string
}

// RecordRepository stores finished EditRecords for history.
type RecordRepository interface {
	Save(ctx context.Context, record *EditRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]EditRecord, error)
}

// ProgressEvent is emitted on every pipeline state change.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"-"`
	State     State     `json:"state"`
	At        time.Time `json:"at"`
}

// ProgressNotifier publishes progress events. Implementations must not block.
type ProgressNotifier interface {
	Publish(event ProgressEvent)
}

// State is a step of the pipeline state machine.
type State string

const (
	StateReceived        State = "received"
	StateValidated       State = "validated"
	StateNormalized      State = "normalized"
	StateSourcePersisted State = "source_persisted"
	StateTransformed     State = "transformed"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)
