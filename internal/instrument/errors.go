package instrument

import (
	"fmt"
	"time"
)

// CommError indicates a bus transaction that still failed after all retry
// attempts were exhausted. It wraps the last underlying failure.
type CommError struct {
	Op       string // "read", "set" or "send"
	Attempts int
	Err      error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("instrument %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// SettleTimeoutError indicates the monitored value never came within
// tolerance of the target before the deadline.
type SettleTimeoutError struct {
	Target    float64
	Tolerance float64
	Last      float64
	Waited    time.Duration
}

func (e *SettleTimeoutError) Error() string {
	return fmt.Sprintf("HV did not settle to %g±%g within %v (last reading %g)",
		e.Target, e.Tolerance, e.Waited, e.Last)
}
