package onboarding

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// FieldValidation is the result of validating one form field.
type FieldValidation struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

var fieldRules = map[string]string{
	"name":              "required,min=2,max=100",
	"organization_name": "required,min=2,max=150",
	"garage_name":       "required,min=2,max=150",
	"email":             "required,email",
	"password":          "required,min=8,max=72",
	"phone":             "required,loosephone",
	"sms_code":          "required,len=6,numeric",
	"siret":             "omitempty,len=14,numeric",
	"address":           "required,min=5,max=255",
}

// Digits with optional leading +, separators allowed.
var loosePhone = regexp.MustCompile(`^\+?[0-9][0-9 .()\-]{7,19}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("loosephone", func(fl validator.FieldLevel) bool {
		return loosePhone.MatchString(fl.Field().String())
	})
	return v
}

// ValidateFormField checks a single form value. Unknown fields are invalid.
func ValidateFormField(field, value string) FieldValidation {
	rule, ok := fieldRules[field]
	if !ok {
		return FieldValidation{Error: fmt.Sprintf("unknown field %q", field)}
	}

	err := validate.Var(value, rule)
	if err == nil {
		return FieldValidation{IsValid: true}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return FieldValidation{Error: err.Error()}
	}
	return FieldValidation{Error: fieldMessage(verrs[0])}
}

// ValidateForm checks several fields and returns the failures keyed by field.
func ValidateForm(values map[string]string) map[string]string {
	failures := map[string]string{}
	for field, value := range values {
		if res := ValidateFormField(field, value); !res.IsValid {
			failures[field] = res.Error
		}
	}
	return failures
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "numeric":
		return "must contain digits only"
	case "loosephone":
		return "must be a valid phone number"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
