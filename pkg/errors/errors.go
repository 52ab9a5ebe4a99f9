package errors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidData   = errors.New("invalid data format")
)
