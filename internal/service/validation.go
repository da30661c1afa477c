package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
)

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves every service. min/max on strings count characters.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// labels are the user-facing field names used in validation messages.
var labels = map[string]string{
	"email":         "Email",
	"password":      "Password",
	"firstName":     "First name",
	"lastName":      "Last name",
	"title":         "Title",
	"description":   "Description",
	"adminResponse": "Response",
	"status":        "Status",
	"rating":        "Rating",
	"comment":       "Comment",
	"message":       "Message",
}

// validateStruct runs the struct tags and converts the first failure into
// an apperror.ValidationFailed naming the field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("service: validating input: %w", err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	label, ok := labels[field]
	if !ok {
		label = field
	}
	return apperror.ValidationFailed(field, validationMessage(label, fe))
}

func validationMessage(label string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return label + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "gte", "lte":
		return label + " must be between 1 and 5"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return label + " is invalid"
	}
}
