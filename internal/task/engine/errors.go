package engine

import "errors"

var (
	ErrScheduleGone = errors.New("schedule deleted during execution")
	ErrPanic        = errors.New("execution panicked")
)
