package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/AzielCF/az-restyle/pipeline/domain"
)

// --- Persistence Model ---

type editRecordModel struct {
	ID               string `gorm:"primaryKey"`
	RequestID        string `gorm:"index:idx_edits_request"`
	SessionID        string `gorm:"index:idx_edits_session,priority:1"`
	TemplateID       string `gorm:"index:idx_edits_template"`
	SourceURL        string
	SourceBytes      int64
	SourceWidth      int
	SourceHeight     int
	SourceFormat     string
	ResultURL        string
	ResultBytes      int64
	ResultWidth      int
	ResultHeight     int
	ResultFormat     string
	StartedAt        time.Time `gorm:"index:idx_edits_session,priority:2;not null"`
	EndedAt          time.Time
	DurationMs       int64
	Status           string `gorm:"index:idx_edits_status;not null"`
	ErrorReason      string `gorm:"type:text"`
	DidNormalize     bool
	CompressionRatio *float64
}

func (editRecordModel) TableName() string {
	return "edit_records"
}

// --- Repository Implementation ---

// EditRecordGormRepository is the analytics store for finished edits.
// Records are insert-only.
type EditRecordGormRepository struct {
	db *gorm.DB
}

func NewEditRecordGormRepository(db *gorm.DB) *EditRecordGormRepository {
	return &EditRecordGormRepository{db: db}
}

func (r *EditRecordGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&editRecordModel{})
}

func (r *EditRecordGormRepository) Save(ctx context.Context, record *domain.EditRecord) error {
	m := toEditRecordModel(record)
	return r.db.WithContext(ctx).Create(&m).Error
}

// ListBySession returns the most recent edits of a session first.
func (r *EditRecordGormRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.EditRecord, error) {
	tx := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("started_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var models []editRecordModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.EditRecord, 0, len(models))
	for _, m := range models {
		out = append(out, fromEditRecordModel(m))
	}
	return out, nil
}

// CountByStatus reports how many edits ended in each status.
func (r *EditRecordGormRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&editRecordModel{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

// --- Mappers ---

func toEditRecordModel(r *domain.EditRecord) editRecordModel {
	m := editRecordModel{
		ID:               r.ID,
		RequestID:        r.RequestID,
		SessionID:        r.SessionID,
		TemplateID:       r.TemplateID,
		SourceURL:        r.SourceImage.URL,
		SourceBytes:      r.SourceImage.ByteSize,
		SourceWidth:      r.SourceImage.Width,
		SourceHeight:     r.SourceImage.Height,
		SourceFormat:     r.SourceImage.Format,
		StartedAt:        r.Processing.StartedAt,
		EndedAt:          r.Processing.EndedAt,
		DurationMs:       r.Processing.DurationMs,
		Status:           string(r.Processing.Status),
		ErrorReason:      r.Processing.ErrorReason,
		DidNormalize:     r.Processing.DidNormalize,
		CompressionRatio: r.Processing.CompressionRatio,
	}
	if r.ResultImage != nil {
		m.ResultURL = r.ResultImage.URL
		m.ResultBytes = r.ResultImage.ByteSize
		m.ResultWidth = r.ResultImage.Width
		m.ResultHeight = r.ResultImage.Height
		m.ResultFormat = r.ResultImage.Format
	}
	return m
}

func fromEditRecordModel(m editRecordModel) domain.EditRecord {
	r := domain.EditRecord{
		ID:         m.ID,
		RequestID:  m.RequestID,
		SessionID:  m.SessionID,
		TemplateID: m.TemplateID,
		SourceImage: domain.ImageInfo{
			URL:      m.SourceURL,
			ByteSize: m.SourceBytes,
			Width:    m.SourceWidth,
			Height:   m.SourceHeight,
			Format:   m.SourceFormat,
		},
		Processing: domain.Processing{
			StartedAt:        m.StartedAt,
			EndedAt:          m.EndedAt,
			DurationMs:       m.DurationMs,
			Status:           domain.Status(m.Status),
			ErrorReason:      m.ErrorReason,
			DidNormalize:     m.DidNormalize,
			CompressionRatio: m.CompressionRatio,
		},
	}
	if m.ResultURL != "" {
		r.ResultImage = &domain.ImageInfo{
			URL:      m.ResultURL,
			ByteSize: m.ResultBytes,
			Width:    m.ResultWidth,
			Height:   m.ResultHeight,
			Format:   m.ResultFormat,
		}
	}
	return r
}
