package accounts

import "errors"

var (
	ErrAccountNotFound          = errors.New("meta account not found")
	ErrDuplicateBusinessAccount = errors.New("meta business account already registered")
	ErrInvalidAccount           = errors.New("invalid meta account")
)
