package submit

import "github.com/cockroachdb/errors"

var (
	// ErrContextPoolExhausted marks a failure to grow the submission context pool. There is no way to
	// continue submitting work after it occurs.
	ErrContextPoolExhausted = errors.New("submission context pool could not grow")
	// ErrSubmitFailed marks a failed queue submission. The work was not submitted.
	ErrSubmitFailed = errors.New("queue submission failed")
	// ErrFenceTimeout is returned when a bounded fence wait expires. Repeated timeouts usually mean
	// the device was lost.
	ErrFenceTimeout = errors.New("timed out waiting for submission fence")
)
