package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_\p{Han}]+$`)
	symbolPattern   = regexp.MustCompile(`^[A-Z0-9]+$`)
	isoDatePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	instance     *validator.Validate
	instanceOnce sync.Once
)

// Validator returns the shared validator with json field names and the custom tags
// `username`, `symbol`, `isodate` and `password` registered.
func Validator() *validator.Validate {
	instanceOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		mustRegister(v, "username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "symbol", func(fl validator.FieldLevel) bool {
			return symbolPattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "isodate", func(fl validator.FieldLevel) bool {
			return IsISODate(fl.Field().String())
		})
		mustRegister(v, "password", func(fl validator.FieldLevel) bool {
			return len(fl.Field().String()) <= MaxPasswordBytes
		})
		instance = v
	})
	return instance
}

// Struct validates value and converts the first failure into an apperrors validation error.
func Struct(value any) error {
	err := Validator().Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		first := fieldErrors[0]
		return apperrors.Validation(fieldPath(first), describe(first))
	}
	return apperrors.Validation("body", err.Error())
}

// IsISODate reports whether value is a real calendar date in YYYY-MM-DD form.
func IsISODate(value string) bool {
	if !isoDatePattern.MatchString(value) {
		return false
	}
	_, err := time.Parse(time.DateOnly, value)
	return err == nil
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldPath drops the root struct name: "Draft.notes[1].content" -> "notes[1].content".
func fieldPath(fieldError validator.FieldError) string {
	namespace := fieldError.Namespace()
	if index := strings.Index(namespace, "."); index >= 0 {
		return namespace[index+1:]
	}
	return fieldError.Field()
}

func describe(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required", "required_if", "required_with":
		return "is required"
	case "min", "gte":
		return "must be at least " + fieldError.Param()
	case "max", "lte":
		return "must be at most " + fieldError.Param()
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fieldError.Param()
	case "username":
		return "may only contain letters, digits, underscores and CJK characters"
	case "symbol":
		return "must contain only uppercase letters and digits"
	case "isodate":
		return "must be a calendar date formatted YYYY-MM-DD"
	case "password":
		return "must be at most " + strconv.Itoa(MaxPasswordBytes) + " bytes"
	case "uri":
		return "must be a valid URI reference"
	default:
		return "failed " + fieldError.Tag() + " validation"
	}
}
