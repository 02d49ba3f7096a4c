package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-restyle/catalog/domain"
	"github.com/AzielCF/az-restyle/pkg/contentcache"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

const (
	keyAll        = "templates:all"
	keyCategories = "templates:categories"
	keyPopular    = "templates:popular:"
	keyByID       = "templates:id:"
	keyCategory   = "templates:category:"
	keySearch     = "search:"
)

// CatalogService serves catalog reads through the content cache and
// applies usage and rating writes to the repository.
type CatalogService struct {
	repo  domain.TemplateRepository
	cache *contentcache.Cache[any]
	ttl   time.Duration
}

func NewCatalogService(repo domain.TemplateRepository, cache *contentcache.Cache[any], ttl time.Duration) *CatalogService {
	return &CatalogService{repo: repo, cache: cache, ttl: ttl}
}

// cached reads key through the cache. Values stored under a key always have
// the type the producer returns.
func cached[T any](s *CatalogService, key string, producer func() (T, error)) (T, error) {
	v, err := s.cache.GetOrCompute(key, s.ttl, func() (any, error) {
		return producer()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, pkgError.InternalServerError(fmt.Sprintf("cache entry %s has type %T", key, v))
	}
	return out, nil
}

func (s *CatalogService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return cached(s, keyAll, func() ([]domain.Template, error) {
		return s.repo.List(ctx)
	})
}

// GetTemplate returns an active template or a NotFoundError.
func (s *CatalogService) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgError.ValidationError("template_id is required")
	}
	tpl, err := cached(s, keyByID+id, func() (*domain.Template, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, translate(err)
	}
	return tpl, nil
}

// ResolvePrompt returns the style prompt and category for a template. It
// reads the repository directly so a transform never runs with a prompt the
// cache still holds after an edit.
func (s *CatalogService) ResolvePrompt(ctx context.Context, id string) (string, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", pkgError.ValidationError("template_id is required")
	}
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", "", translate(err)
	}
	return tpl.Prompt, tpl.Category, nil
}

func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	return cached(s, keyCategories, func() ([]string, error) {
		return s.repo.Categories(ctx)
	})
}

func (s *CatalogService) ListByCategory(ctx context.Context, category string) ([]domain.Template, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return nil, pkgError.ValidationError("category is required")
	}
	return cached(s, keyCategory+category, func() ([]domain.Template, error) {
		return s.repo.ListByCategory(ctx, category)
	})
}

// Search requires a non-empty query. The cache key covers every filter.
func (s *CatalogService) Search(ctx context.Context, q domain.SearchQuery) ([]domain.Template, error) {
	q.Query = strings.TrimSpace(q.Query)
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	if q.Query == "" {
		return nil, pkgError.ValidationError("search query is required")
	}
	key := fmt.Sprintf("%s%s|%s|%d", keySearch, strings.ToLower(q.Query), q.Category, q.Limit)
	return cached(s, key, func() ([]domain.Template, error) {
		return s.repo.Search(ctx, q)
	})
}

func (s *CatalogService) Popular(ctx context.Context, limit int) ([]domain.Template, error) {
	return cached(s, fmt.Sprintf("%s%d", keyPopular, limit), func() ([]domain.Template, error) {
		return s.repo.Popular(ctx, limit)
	})
}

// RecordUsage applies one edit outcome. Only the item entry is dropped;
// list entries catch up when their TTL runs out.
func (s *CatalogService) RecordUsage(ctx context.Context, id string, success bool, durationMs int64) error {
	if err := s.repo.RecordUsage(ctx, id, success, durationMs); err != nil {
		return translate(err)
	}
	s.cache.Delete(keyByID + id)
	return nil
}

// Rate records a 1..5 rating for an active template.
func (s *CatalogService) Rate(ctx context.Context, id string, rating int) (*domain.Template, error) {
	tpl, err := s.repo.AddRating(ctx, id, rating)
	if err != nil {
		return nil, translate(err)
	}
	s.cache.Delete(keyByID + id)
	logrus.Debugf("[CATALOG] Rated %s with %d, popularity %.2f", id, rating, tpl.Usage.PopularityScore)
	return tpl, nil
}

// Upsert stores a template and drops every cached catalog view.
func (s *CatalogService) Upsert(ctx context.Context, tpl *domain.Template) error {
	if err := s.repo.Upsert(ctx, tpl); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Invalidate drops every cached catalog view.
func (s *CatalogService) Invalidate() {
	removed := s.cache.DeletePrefix("templates:") + s.cache.DeletePrefix(keySearch)
	logrus.Debugf("[CATALOG] Invalidated %d cached entries", removed)
}

func translate(err error) error {
	switch {
	case errors.Is(err, domain.ErrTemplateNotFound):
		return pkgError.NotFoundError("template not found")
	case errors.Is(err, domain.ErrInvalidRating):
		return pkgError.ValidationError(domain.ErrInvalidRating.Error())
	default:
		return err
	}
}
