// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package validation provides request validation on go-playground/validator
// v10. A thread-safe singleton instance caches struct metadata; errors
// translate into the API's VALIDATION_ERROR shape.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one field that failed validation.
type FieldError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the struct field name that failed.
func (e *FieldError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string { return e.tag }

// Error returns a human-readable message.
func (e *FieldError) Error() string { return e.message }

// RequestError is the set of field errors for one request.
type RequestError struct {
	errors []FieldError
}

// Errors returns the field errors.
func (re *RequestError) Errors() []FieldError { return re.errors }

// Error implements the error interface.
func (re *RequestError) Error() string {
	if len(re.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(re.errors))
	for i, e := range re.errors {
		msgs[i] = e.message
	}
	return strings.Join(msgs, "; ")
}

// Details returns the structured payload for the API error response.
func (re *RequestError) Details() map[string]interface{} {
	if len(re.errors) == 0 {
		return nil
	}
	if len(re.errors) == 1 {
		e := re.errors[0]
		return map[string]interface{}{
			"field": e.field,
			"tag":   e.tag,
			"value": e.value,
		}
	}

	fields := make([]map[string]interface{}, len(re.errors))
	for i, e := range re.errors {
		fields[i] = map[string]interface{}{
			"field":   e.field,
			"tag":     e.tag,
			"message": e.message,
		}
	}
	return map[string]interface{}{"fields": fields}
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a tagged struct. Returns nil on success.
func ValidateStruct(s interface{}) *RequestError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestError{errors: []FieldError{{
			field:   "unknown",
			tag:     "unknown",
			message: err.Error(),
		}}}
	}

	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: translate(fe),
		}
	}
	return &RequestError{errors: out}
}

var messageTemplates = map[string]string{
	"required": "%s is required",
	"datetime": "%s must be a valid RFC3339 timestamp",
}

var messageTemplatesWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"len":   "%s must be exactly %s characters",
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()
	param := fe.Param()

	if t, ok := messageTemplates[tag]; ok {
		return fmt.Sprintf(t, field)
	}
	if t, ok := messageTemplatesWithParam[tag]; ok {
		return fmt.Sprintf(t, field, param)
	}

	isString := fe.Kind().String() == "string"
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
