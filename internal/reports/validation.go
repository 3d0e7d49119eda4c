package reports

import (
	"errors"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var reportValidator = newReportValidator()

func newReportValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("field"); name != "" {
			return name
		}
		return field.Name
	})
	// Overrides the built-in latitude/longitude rules with finite-number range checks.
	if err := validate.RegisterValidation("latitude", validateLatitude); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("longitude", validateLongitude); err != nil {
		panic(err)
	}
	return validate
}

func validateLatitude(fl validator.FieldLevel) bool {
	return inRange(fl.Field().Float(), 90)
}

func validateLongitude(fl validator.FieldLevel) bool {
	return inRange(fl.Field().Float(), 180)
}

func inRange(value, limit float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	return value >= -limit && value <= limit
}

// validateNewReport returns one FieldError per failing field, in declaration order.
func validateNewReport(input NewReport) []FieldError {
	err := reportValidator.Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Field: "report", Rule: "invalid"}}
	}
	fields := make([]FieldError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, FieldError{Field: fieldErr.Field(), Rule: fieldErr.Tag()})
	}
	return fields
}
