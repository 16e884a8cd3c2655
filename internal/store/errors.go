package store

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrUnavailable     = errors.New("backend unavailable")
)
