package domain

import "errors"

var (
	ErrCaseNotFound      = errors.New("case_not_found")
	ErrServiceNotFound   = errors.New("service_not_found")
	ErrServiceNotInCase  = errors.New("service_not_in_case")
	ErrVersionConflict   = errors.New("case_version_conflict")
	ErrInvalidCaseID     = errors.New("invalid_case_id")
	ErrInvalidEmployeeID = errors.New("invalid_employee_id")
)
