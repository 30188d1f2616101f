package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/caseledger/internal/timeentry/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateCommand reports the first failing field as a ValidationError.
func validateCommand(v *validator.Validate, cmd domain.Command) error {
	err := v.Struct(cmd)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Field: "command", Code: "invalid", Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &domain.ValidationError{
		Field:   fe.Field(),
		Code:    fe.Tag(),
		Message: messageFor(fe),
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "is required"
	case "excluded_if":
		return "must be empty for internal activity"
	case "gt":
		return "must be greater than " + fe.Param()
	case "datetime":
		return "must be a YYYY-MM-DD date"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

func normalize(cmd domain.Command) domain.Command {
	cmd.CaseID = strings.TrimSpace(cmd.CaseID)
	cmd.ServiceID = strings.TrimSpace(cmd.ServiceID)
	cmd.EmployeeID = strings.TrimSpace(cmd.EmployeeID)
	cmd.Date = strings.TrimSpace(cmd.Date)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	cmd.TaskID = strings.TrimSpace(cmd.TaskID)
	cmd.Action = strings.TrimSpace(cmd.Action)
	return cmd
}
