package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

func ErrorDuplicateValue(column string) error {
	return errors.New(strings.ReplaceAll(column, "_", " ") + " already exists")
}

// flatten gin-binding (go-playground/validator) errors into field -> message
func ProcessValidationErrors(err error) map[string]string {

	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["error"] = err.Error()
		return errorResponse
	}

	for _, fieldError := range validationErrors {
		field := strings.ToLower(fieldError.Field())
		switch fieldError.Tag() {
		case "required":
			errorResponse[field] = fmt.Sprintf("%s is required", field)
		case "gt":
			errorResponse[field] = fmt.Sprintf("%s must be greater than %s", field, fieldError.Param())
		case "gte":
			errorResponse[field] = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
		default:
			errorResponse[field] = fmt.Sprintf("%s is invalid", field)
		}
	}

	return errorResponse
}

func MergeIntSlices(a []int, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	merged := make([]int, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	return merged
}
