package handler

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var weekBucketPattern = regexp.MustCompile(`^\d{4}-W\d{2}$`)

// NewValidator builds the validator shared by all handlers, with the
// weekbucket rule for ISO week identifiers like "2026-W34".
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("weekbucket", func(fl validator.FieldLevel) bool {
		return weekBucketPattern.MatchString(fl.Field().String())
	})
	return v
}
