package domain

import (
	"fmt"
	"time"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ImageInfo describes a stored image.
type ImageInfo struct {
	URL      string `json:"url"`
	ByteSize int64  `json:"byte_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

type Processing struct {
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationMs       int64     `json:"duration_ms"`
	Status           Status    `json:"status"`
	ErrorReason      string    `json:"error_reason,omitempty"`
	DidNormalize     bool      `json:"did_normalize"`
	CompressionRatio *float64  `json:"compression_ratio,omitempty"`
}

// EditRecord is the durable trace of one transformation attempt. Its status
// moves to completed or failed exactly once and the record is immutable
// afterwards.
type EditRecord struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"request_id"`
	SessionID   string     `json:"session_id"`
	TemplateID  string     `json:"template_id"`
	SourceImage ImageInfo  `json:"source_image"`
	ResultImage *ImageInfo `json:"result_image,omitempty"`
	Processing  Processing `json:"processing"`
}

func NewEditRecord(id, requestID, sessionID, templateID string, startedAt time.Time) *EditRecord {
	return &EditRecord{
		ID:         id,
		RequestID:  requestID,
		SessionID:  sessionID,
		TemplateID: templateID,
		Processing: Processing{
			StartedAt: startedAt,
			Status:    StatusPending,
		},
	}
}

// Start moves a pending record to processing.
func (r *EditRecord) Start() error {
	if r.Processing.Status != StatusPending {
		return pkgError.InternalServerError(fmt.Sprintf("edit %s cannot start from %s", r.ID, r.Processing.Status))
	}
	r.Processing.Status = StatusProcessing
	return nil
}

// Complete sets the terminal success state.
func (r *EditRecord) Complete(result ImageInfo, endedAt time.Time) error {
	if err := r.finish(StatusCompleted, endedAt); err != nil {
		return err
	}
	r.ResultImage = &result
	return nil
}

// Fail sets the terminal failure state with a reason meant for operators.
func (r *EditRecord) Fail(reason string, endedAt time.Time) error {
	if err := r.finish(StatusFailed, endedAt); err != nil {
		return err
	}
	r.Processing.ErrorReason = reason
	return nil
}

func (r *EditRecord) finish(status Status, endedAt time.Time) error {
	if r.Processing.Status.Terminal() {
		return pkgError.InternalServerError(fmt.Sprintf("edit %s already %s", r.ID, r.Processing.Status))
	}
	r.Processing.Status = status
	r.Processing.EndedAt = endedAt
	r.Processing.DurationMs = endedAt.Sub(r.Processing.StartedAt).Milliseconds()
	return nil
}
