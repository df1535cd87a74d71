package http

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"invoice-engine/internal/adapter/middleware"
	"invoice-engine/internal/domain/invoice"
	"invoice-engine/pkg/id"
)

// Reusable error payload
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

type CustomValidator struct{ v *validator.Validate }

func NewValidator() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json/form/param names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form", "param"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	// invoice id = 32-char lowercase hex
	_ = v.RegisterValidation("hex32", func(fl validator.FieldLevel) bool {
		return id.IsID32(fl.Field().String())
	})
	// wire status integer 0..8
	_ = v.RegisterValidation("invstatus", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return invoice.Status(fl.Field().Int()).Valid()
		default:
			return false
		}
	})
	_ = v.RegisterValidation("actor", func(fl validator.FieldLevel) bool {
		return middleware.ValidUserID(fl.Field().String())
	})

	return &CustomValidator{v: v}
}

func (cv *CustomValidator) Validate(i any) error { return cv.v.Struct(i) }

// Map validator.ValidationErrors → []FieldError with readable messages.
func ToFieldErrors(err error) []FieldError {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ve))
	for _, e := range ve {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out = append(out, FieldError{Field: field, Message: "is required"})
		case "hex32":
			out = append(out, FieldError{Field: field, Message: "must be 32-char lowercase hex"})
		case "invstatus":
			out = append(out, FieldError{Field: field, Message: "must be a status between 0 and " + strconv.Itoa(int(invoice.StatusOnHold))})
		case "actor":
			out = append(out, FieldError{Field: field, Message: "must be 1-64 letters, digits or ._@-"})
		case "max":
			out = append(out, FieldError{Field: field, Message: "must be at most " + e.Param() + " characters"})
		case "oneof":
			out = append(out, FieldError{Field: field, Message: "must be one of: " + e.Param()})
		case "gte":
			out = append(out, FieldError{Field: field, Message: "must be greater than or equal to " + e.Param()})
		case "lte":
			out = append(out, FieldError{Field: field, Message: "must be less than or equal to " + e.Param()})
		default:
			out = append(out, FieldError{Field: field, Message: e.Tag() + " validation failed"})
		}
	}
	return out
}

// violationsToFieldErrors maps a domain validation error onto the HTTP payload.
func violationsToFieldErrors(err *invoice.ValidationError) []FieldError {
	out := make([]FieldError, 0, len(err.Violations))
	for _, v := range err.Violations {
		out = append(out, FieldError{Field: v.Field, Message: v.Message})
	}
	return out
}
