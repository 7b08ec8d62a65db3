package game

import "errors"

var (
	ErrPhaseMismatch    = errors.New("phase mismatch")
	ErrIncorrectPayment = errors.New("incorrect payment amount")
	ErrInvalidAmount    = errors.New("invalid deposit amount")
	ErrInvalidRange     = errors.New("invalid target range")
	ErrUnauthorized     = errors.New("unauthorized")
)
