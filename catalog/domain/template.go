package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

const (
	MinRating = 1
	MaxRating = 5
)

// Template is a visual style users can apply to an image. Prompt is the
// instruction sent to the transformation service and never leaves the
// process.
type Template struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Prompt      string        `json:"-"`
	PreviewURL  string        `json:"preview_url,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	IsActive    bool          `json:"is_active"`
	Usage       TemplateUsage `json:"usage"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TemplateUsage is the aggregate derived from edit outcomes and ratings.
type TemplateUsage struct {
	TotalUses           int64   `json:"total_uses"`
	SuccessfulUses      int64   `json:"successful_uses"`
	FailedUses          int64   `json:"failed_uses"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	AvgRating           float64 `json:"avg_rating"`
	RatingCount         int64   `json:"rating_count"`
	PopularityScore     float64 `json:"popularity_score"`
}

// PopularityScore weighs successful uses against the average rating. It is
// the only formula used to rank templates.
func PopularityScore(successfulUses int64, avgRating float64) float64 {
	return float64(successfulUses)*0.7 + avgRating*20*0.3
}

// RecordOutcome folds one finished edit into the aggregate. The average
// processing time only tracks successful edits.
func (u *TemplateUsage) RecordOutcome(success bool, durationMs int64) {
	u.TotalUses++
	if success {
		u.SuccessfulUses++
		n := float64(u.SuccessfulUses)
		u.AvgProcessingTimeMs = (u.AvgProcessingTimeMs*(n-1) + float64(durationMs)) / n
	} else {
		u.FailedUses++
	}
	u.PopularityScore = PopularityScore(u.SuccessfulUses, u.AvgRating)
}

// AddRating folds one 1..5 rating into the running average.
func (u *TemplateUsage) AddRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return ErrInvalidRating
	}
	u.RatingCount++
	n := float64(u.RatingCount)
	u.AvgRating = (u.AvgRating*(n-1) + float64(rating)) / n
	u.PopularityScore = PopularityScore(u.SuccessfulUses, u.AvgRating)
	return nil
}

// SearchQuery filters active templates. Query matches name, description and
// tags case-insensitively.
type SearchQuery struct {
	Query    string
	Category string
	Limit    int
}

type TemplateRepository interface {
	List(ctx context.Context) ([]Template, error)
	GetByID(ctx context.Context, id string) (*Template, error)
	Categories(ctx context.Context) ([]string, error)
	ListByCategory(ctx context.Context, category string) ([]Template, error)
	Search(ctx context.Context, query SearchQuery) ([]Template, error)
	Popular(ctx context.Context, limit int) ([]Template, error)
	RecordUsage(ctx context.Context, id string, success bool, durationMs int64) error
	AddRating(ctx context.Context, id string, rating int) (*Template, error)
	Upsert(ctx context.Context, t *Template) error
}

// RatingRequest is a caller's 1..5 score for a template.
type RatingRequest struct {
	TemplateID string `json:"-"`
	Rating     int    `json:"rating"`
}
