package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AzielCF/az-restyle/catalog/domain"
)

// --- Persistence Model ---

type templateModel struct {
	ID                  string `gorm:"primaryKey"`
	Name                string `gorm:"index:idx_templates_name;not null"`
	Description         string `gorm:"type:text"`
	Category            string `gorm:"index:idx_templates_category;not null"`
	Prompt              string `gorm:"type:text;not null"`
	PreviewURL          string
	Tags                string    `gorm:"type:text;default:'[]'"` // JSON
	IsActive            bool      `gorm:"not null"`
	TotalUses           int64     `gorm:"default:0"`
	SuccessfulUses      int64     `gorm:"default:0"`
	FailedUses          int64     `gorm:"default:0"`
	AvgProcessingTimeMs float64   `gorm:"default:0"`
	AvgRating           float64   `gorm:"default:0"`
	RatingCount         int64     `gorm:"default:0"`
	PopularityScore     float64   `gorm:"index:idx_templates_popularity;default:0"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (templateModel) TableName() string {
	return "templates"
}

// --- Repository Implementation ---

type TemplateGormRepository struct {
	db *gorm.DB
}

func NewTemplateGormRepository(db *gorm.DB) *TemplateGormRepository {
	return &TemplateGormRepository{db: db}
}

func (r *TemplateGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&templateModel{})
}

func (r *TemplateGormRepository) active(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&templateModel{}).Where("is_active = ?", true)
}

func (r *TemplateGormRepository) List(ctx context.Context) ([]domain.Template, error) {
	var models []templateModel
	if err := r.active(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return fromTemplateModels(models)
}

func (r *TemplateGormRepository) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var m templateModel
	if err := r.active(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	return fromTemplateModel(m)
}

func (r *TemplateGormRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.active(ctx).Distinct("category").Order("category ASC").Pluck("category", &categories).Error
	return categories, err
}

func (r *TemplateGormRepository) ListByCategory(ctx context.Context, category string) ([]domain.Template, error) {
	var models []templateModel
	err := r.active(ctx).
		Where("LOWER(category) = ?", strings.ToLower(category)).
		Order("popularity_score DESC, name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromTemplateModels(models)
}

func (r *TemplateGormRepository) Search(ctx context.Context, q domain.SearchQuery) ([]domain.Template, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(q.Query)) + "%"
	tx := r.active(ctx).
		Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(tags) LIKE ?)", like, like, like)
	if q.Category != "" {
		tx = tx.Where("LOWER(category) = ?", strings.ToLower(q.Category))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var models []templateModel
	if err := tx.Order("popularity_score DESC, name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return fromTemplateModels(models)
}

func (r *TemplateGormRepository) Popular(ctx context.Context, limit int) ([]domain.Template, error) {
	tx := r.active(ctx).Order("popularity_score DESC, successful_uses DESC, name ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []templateModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return fromTemplateModels(models)
}

// RecordUsage folds one edit outcome into the template aggregate inside a
// transaction. Callers serialize updates per template.
func (r *TemplateGormRepository) RecordUsage(ctx context.Context, id string, success bool, durationMs int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m templateModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTemplateNotFound
			}
			return err
		}

		usage := usageOf(m)
		usage.RecordOutcome(success, durationMs)
		return tx.Model(&templateModel{}).Where("id = ?", id).Updates(usageColumns(usage)).Error
	})
}

func (r *TemplateGormRepository) AddRating(ctx context.Context, id string, rating int) (*domain.Template, error) {
	var updated *domain.Template
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m templateModel
		if err := tx.Where("id = ? AND is_active = ?", id, true).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTemplateNotFound
			}
			return err
		}

		usage := usageOf(m)
		if err := usage.AddRating(rating); err != nil {
			return err
		}
		if err := tx.Model(&templateModel{}).Where("id = ?", id).Updates(usageColumns(usage)).Error; err != nil {
			return err
		}

		t, err := fromTemplateModel(m)
		if err != nil {
			return err
		}
		t.Usage = usage
		updated = t
		return nil
	})
	return updated, err
}

// Upsert creates or replaces the descriptive fields of a template. Usage
// aggregates of an existing row are preserved.
func (r *TemplateGormRepository) Upsert(ctx context.Context, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	model, err := toTemplateModel(t)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing templateModel
		err := tx.First(&existing, "id = ?", t.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&templateModel{}).Where("id = ?", t.ID).Updates(map[string]any{
			"name":        model.Name,
			"description": model.Description,
			"category":    model.Category,
			"prompt":      model.Prompt,
			"preview_url": model.PreviewURL,
			"tags":        model.Tags,
			"is_active":   model.IsActive,
			"updated_at":  model.UpdatedAt,
		}).Error
	})
}

// --- Mappers ---

func usageOf(m templateModel) domain.TemplateUsage {
	return domain.TemplateUsage{
		TotalUses:           m.TotalUses,
		SuccessfulUses:      m.SuccessfulUses,
		FailedUses:          m.FailedUses,
		AvgProcessingTimeMs: m.AvgProcessingTimeMs,
		AvgRating:           m.AvgRating,
		RatingCount:         m.RatingCount,
		PopularityScore:     m.PopularityScore,
	}
}

func usageColumns(u domain.TemplateUsage) map[string]any {
	return map[string]any{
		"total_uses":             u.TotalUses,
		"successful_uses":        u.SuccessfulUses,
		"failed_uses":            u.FailedUses,
		"avg_processing_time_ms": u.AvgProcessingTimeMs,
		"avg_rating":             u.AvgRating,
		"rating_count":           u.RatingCount,
		"popularity_score":       u.PopularityScore,
		"updated_at":             time.Now(),
	}
}

func toTemplateModel(t *domain.Template) (templateModel, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return templateModel{}, fmt.Errorf("marshal tags: %w", err)
	}
	return templateModel{
		ID:                  t.ID,
		Name:                t.Name,
		Description:         t.Description,
		Category:            t.Category,
		Prompt:              t.Prompt,
		PreviewURL:          t.PreviewURL,
		Tags:                string(tagsJSON),
		IsActive:            t.IsActive,
		TotalUses:           t.Usage.TotalUses,
		SuccessfulUses:      t.Usage.SuccessfulUses,
		FailedUses:          t.Usage.FailedUses,
		AvgProcessingTimeMs: t.Usage.AvgProcessingTimeMs,
		AvgRating:           t.Usage.AvgRating,
		RatingCount:         t.Usage.RatingCount,
		PopularityScore:     domain.PopularityScore(t.Usage.SuccessfulUses, t.Usage.AvgRating),
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}, nil
}

func fromTemplateModel(m templateModel) (*domain.Template, error) {
	var tags []string
	if m.Tags != "" {
		if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags of %s: %w", m.ID, err)
		}
	}
	return &domain.Template{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Prompt:      m.Prompt,
		PreviewURL:  m.PreviewURL,
		Tags:        tags,
		IsActive:    m.IsActive,
		Usage:       usageOf(m),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func fromTemplateModels(models []templateModel) ([]domain.Template, error) {
	out := make([]domain.Template, 0, len(models))
	for _, m := range models {
		t, err := fromTemplateModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}
