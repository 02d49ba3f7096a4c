package validations

import (
	"context"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainCatalog "github.com/AzielCF/az-restyle/catalog/domain"
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	maxQueryLength   = 100
)

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateTemplateID checks the shape of an id. Well-formed ids that do not
// exist are left for the catalog to report as not found.
func ValidateTemplateID(id string) error {
	err := validation.Validate(id,
		validation.Required.Error("template_id is required"),
		validation.Match(templateIDPattern).Error("template_id is malformed"),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

// ValidateSearch trims the query and applies the default limit.
func ValidateSearch(ctx context.Context, query *domainCatalog.SearchQuery) error {
	query.Query = strings.TrimSpace(query.Query)
	query.Category = strings.TrimSpace(query.Category)

	err := validation.ValidateStructWithContext(ctx, query,
		validation.Field(&query.Query,
			validation.Required.Error("q is required"),
			validation.RuneLength(1, maxQueryLength),
		),
		validation.Field(&query.Category, validation.RuneLength(0, 64)),
		validation.Field(&query.Limit, validation.Min(0), validation.Max(MaxListLimit)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	if query.Limit == 0 {
		query.Limit = DefaultListLimit
	}
	return nil
}

func ValidateRating(ctx context.Context, request domainCatalog.RatingRequest) error {
	if err := ValidateTemplateID(request.TemplateID); err != nil {
		return err
	}
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Rating,
			validation.Required.Error("rating is required"),
			validation.Min(domainCatalog.MinRating),
			validation.Max(domainCatalog.MaxRating),
		),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

// ValidateLimit returns DefaultListLimit for zero and rejects values outside
// 0..MaxListLimit.
func ValidateLimit(limit int) (int, error) {
	err := validation.Validate(limit, validation.Min(0), validation.Max(MaxListLimit))
	if err != nil {
		return 0, pkgError.ValidationError("limit: " + err.Error())
	}
	if limit == 0 {
		return DefaultListLimit, nil
	}
	return limit, nil
}

// ValidateTemplate checks a template definition before it enters the
// catalog.
func ValidateTemplate(ctx context.Context, tpl *domainCatalog.Template) error {
	tpl.Name = strings.TrimSpace(tpl.Name)
	tpl.Category = strings.TrimSpace(tpl.Category)
	tpl.Prompt = strings.TrimSpace(tpl.Prompt)

	err := validation.ValidateStructWithContext(ctx, tpl,
		validation.Field(&tpl.ID, validation.Required, validation.Match(templateIDPattern)),
		validation.Field(&tpl.Name, validation.Required, validation.RuneLength(1, 120)),
		validation.Field(&tpl.Category, validation.Required, validation.RuneLength(1, 64)),
		validation.Field(&tpl.Prompt, validation.Required, validation.RuneLength(1, 4000)),
		validation.Field(&tpl.Description, validation.RuneLength(0, 1000)),
	)
	if err != nil {
		return pkgError.ValidationError(tpl.ID + ": " + err.Error())
	}
	return nil
}
