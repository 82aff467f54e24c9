package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/terkoizmy/jobdex/logger"
)

type Validator struct {
	validator *validator.Validate
	logger    logger.Logger
}

type tagValidationDetails struct {
	validatorFunc validator.Func
	err           error
}

func New(logger logger.Logger) (*Validator, error) {
	validator := &Validator{validator: validator.New(), logger: logger}
	validator.validator.RegisterTagNameFunc(useJSONFieldNames)
	if err := validator.registerCustomValidatorsForTags(); err != nil {
		return nil, err
	}

	return validator, nil
}

func (v *Validator) Validate(i any) error {

	if err := v.validator.Struct(i); err != nil {
		v.logger.Warn("validation failed", "err", err.Error())
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {

			tagValidationDetails, ok := v.tagValidationDetailsMap()[validationErrs[0].Tag()]
			if ok {
				return tagValidationDetails.err
			}

			switch validationErrs[0].Tag() {
			case "required":
				return fmt.Errorf("missing required field '%s'", validationErrs[0].Field())

			case "min", "max":
				return fmt.Errorf("value or length of field '%s' is not in the expected range", validationErrs[0].Field())

			}
		}
		return err
	}
	return nil
}

func (v *Validator) tagValidationDetailsMap() map[string]tagValidationDetails {
	return map[string]tagValidationDetails{
		"valid_query": {validatorFunc: v.isValidQuery, err: errors.New("invalid query")},
	}
}

func (v *Validator) registerCustomValidatorsForTags() error {

	tagValidationDetailsMap := v.tagValidationDetailsMap()

	for tag, tagValidationDetails := range tagValidationDetailsMap {
		if err := v.validator.RegisterValidation(tag, tagValidationDetails.validatorFunc); err != nil {
			v.logger.Error("failed to register custom validator function", "err", err.Error())
			return err
		}
	}
	return nil
}

func useJSONFieldNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// isValidQuery accepts any printable query text, including the empty string.
// An empty query is answered with an empty result set, not a validation
// error. Control bytes never belong in a query and are rejected.
func (v *Validator) isValidQuery(fl validator.FieldLevel) bool {
	query := fl.Field().String()

	if strings.ContainsFunc(query, func(r rune) bool { return r < 0x20 }) {
		v.logger.Warn("query contains control characters", "query", query)
		return false
	}

	return true
}
