package domain

import "errors"

var (
	ErrKeyRequired  = errors.New("idempotency_key_required")
	ErrDuplicateKey = errors.New("idempotency_key_already_processed")
)
