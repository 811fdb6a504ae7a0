package admin

import "errors"

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized, run 'leasectl login' first")
	ErrNotFound     = errors.New("not found")
	ErrRejected     = errors.New("rejected")
)
