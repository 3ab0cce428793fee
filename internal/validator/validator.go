// Package validator wraps go-playground/validator with the project's
// error builder so struct validation failures surface as ErrValidation.
package validator

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func initValidator() {
	once.Do(func() {
		validate = validator.New()
	})
}

func NewValidator() *validator.Validate {
	initValidator()
	return validate
}

func GetValidator() *validator.Validate {
	initValidator()
	return validate
}

// ValidateRequest runs struct tag validation and, on failure, returns an
// ErrValidation-marked error carrying a field->message detail map.
func ValidateRequest(req interface{}) error {
	initValidator()

	if err := validate.Struct(req); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			for _, fieldErr := range validateErrs {
				details[fieldErr.Field()] = fieldErr.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("request validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func ValidateURL(raw *string) error {
	if raw == nil {
		return nil
	}

	if strings.TrimSpace(*raw) == "" {
		return nil
	}

	u, err := url.ParseRequestURI(*raw)
	if err != nil {
		return errors.New("url must be a valid URL")
	}

	if u.Scheme != "https" {
		return errors.New("url must start with https://")
	}

	if u.Host == "" {
		return errors.New("url must have a valid host")
	}

	return nil
}
