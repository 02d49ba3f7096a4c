package validations

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

const (
	maxPreferences      = 32
	maxPreferenceLength = 256
)

var preferenceKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)

func ValidatePreferences(preferences map[string]string) error {
	if len(preferences) > maxPreferences {
		return pkgError.ValidationError(fmt.Sprintf("at most %d preferences are allowed", maxPreferences))
	}
	for key, value := range preferences {
		if err := validation.Validate(key, validation.Required, validation.Match(preferenceKeyPattern)); err != nil {
			return pkgError.ValidationError(fmt.Sprintf("preference key %q: %v", key, err))
		}
		if err := validation.Validate(value, validation.RuneLength(0, maxPreferenceLength)); err != nil {
			return pkgError.ValidationError(fmt.Sprintf("preference %s: %v", key, err))
		}
	}
	return nil
}
