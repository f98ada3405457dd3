package notefs

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/garnicia/internal/apperr"
)

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeName trims and lowercases a user-entered note name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateName checks that name is a lowercase filename made of alphanumerics
// and limited punctuation, with no path separators.
func ValidateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 255),
		validation.Match(nameRe).Error("must be lowercase letters, digits, '.', '_' or '-'"),
	)
	if err != nil {
		return fmt.Errorf("%w %q: %v", apperr.ErrInvalidName, name, err)
	}
	return nil
}
