package training

import "fmt"

// DivergedError is the fatal error raised the instant any step's combined
// scalar loss is non-finite. It is never caught internally: it propagates
// out of Fit and terminates the run.
type DivergedError struct {
	Phase string
	Epoch int
	Value float64
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("training loss is non-finite: %v (%s epoch %d)", e.Value, e.Phase, e.Epoch)
}
