// Package validate wraps go-playground/validator for the typed command
// structs passed into the billing and insurance services.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hms/hms/internal/platform/apperr"
)

var v = validator.New()

// Struct validates the struct tags on input and converts the first failure
// into an application validation error.
func Struct(input interface{}) error {
	err := v.Struct(input)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return apperr.Validation("%s", formatFieldError(verrs[0]))
	}
	return apperr.Validation("invalid input: %v", err)
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "gte":
		return field + " must be at least " + fe.Param()
	case "lte":
		return field + " must be at most " + fe.Param()
	case "oneof":
		return field + " must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	default:
		return field + " is invalid"
	}
}
