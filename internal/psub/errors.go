package psub

import "errors"

var (
	ErrConnection = errors.New("psub: cannot open subscription stream")
	ErrStream     = errors.New("psub: subscription stream failed")
)
