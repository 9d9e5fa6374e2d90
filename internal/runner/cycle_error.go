package runner

import (
	"fmt"
	"time"
)

// CycleError reports a monitoring cycle that failed as a whole. The loop
// keeps going after one.
type CycleError struct {
	Started time.Time
	Elapsed time.Duration
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle started at %s failed after %s: %v",
		e.Started.UTC().Format(time.RFC3339), e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
