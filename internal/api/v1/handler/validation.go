package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"morphflux/internal/api/v1/response"
)

const (
	minPasswordLength = 8
	passwordSpecials  = "@$!%*?&"
)

// NewValidator reports fields by their JSON names and knows the password
// strength rule.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("password", validatePassword); err != nil {
		panic(err)
	}
	return v
}

// validatePassword requires a lowercase letter, an uppercase letter, a digit
// and one of @$!%*?&, in at least eight characters.
func validatePassword(fl validator.FieldLevel) bool {
	pw := fl.Field().String()
	if len(pw) < minPasswordLength {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return lower && upper && digit && special
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Please provide a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	case "password":
		if len(fe.Value().(string)) < minPasswordLength {
			return fmt.Sprintf("%s must be at least %d characters long", field, minPasswordLength)
		}
		return field + " must contain at least one lowercase letter, one uppercase letter, one number, and one special character"
	case "url":
		return field + " must be a valid URL"
	case "uuid":
		return field + " must be a valid id"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return field + " is invalid"
}

func fieldErrors(err error) []response.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []response.FieldError{{Message: err.Error()}}
	}
	out := make([]response.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, response.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// decodeAndValidate reads a JSON body into dst and validates it, answering
// 400 itself when either step fails.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := decodeBody(r, dst); err != nil {
		response.Fail(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	if err := v.Struct(dst); err != nil {
		response.ValidationFailed(w, fieldErrors(err))
		return false
	}
	return true
}
