package domain

import "errors"

var (
	ErrReportNotFound = errors.New("health_check_not_found")
	ErrSweepFailed    = errors.New("invariant_sweep_failed")
)
