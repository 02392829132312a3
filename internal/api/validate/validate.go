package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/markdave123-py/appointly/internal/api/respond"
)

// bcryptMaxBytes is the longest input bcrypt hashes.
const bcryptMaxBytes = 72

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcryptmax counts bytes; max counts runes.
	_ = validate.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= bcryptMaxBytes
	})
}

// Struct validates v and returns one entry per failing field, named by its
// JSON key.
func Struct(v any) []respond.FieldError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []respond.FieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]respond.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, respond.FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

// Var validates a single value, such as a path parameter, against tag.
func Var(field string, v any, tag string) []respond.FieldError {
	err := validate.Var(v, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []respond.FieldError{{Field: field, Message: err.Error()}}
	}
	return []respond.FieldError{{Field: field, Message: message(verrs[0])}}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "bcryptmax":
		return fmt.Sprintf("must be at most %d bytes", bcryptMaxBytes)
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "e164":
		return "must be a phone number in E.164 format"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
