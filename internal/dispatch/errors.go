package dispatch

import "errors"

var (
	ErrConfiguration = errors.New("dispatcher: invalid configuration")
	ErrClosed        = errors.New("dispatcher closed")
)
