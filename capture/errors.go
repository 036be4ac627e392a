package capture

import "errors"

// Capture error taxonomy. Backend-specific diagnostics are wrapped around
// these sentinels with fmt.Errorf("%w") so callers can match with errors.Is
// without ever seeing native error types.
var (
	// ErrPermissionDenied is terminal until the user changes the OS-level
	// screen recording permission; it is never retried internally.
	ErrPermissionDenied = errors.New("screen recording permission denied")

	// ErrDisplayNotFound means the id is absent from the latest enumeration.
	// Callers should re-enumerate and retry with a current id.
	ErrDisplayNotFound = errors.New("display not found")

	// ErrCaptureFailed wraps backend-specific capture failures. They may be
	// transient; retry policy is the caller's decision.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrNotSupported marks a platform capability gap.
	ErrNotSupported = errors.New("capture not supported")

	// ErrAlreadyCapturing and ErrNotCapturing signal protocol misuse of the
	// start/stop state machine by the caller.
	ErrAlreadyCapturing = errors.New("capture already in progress")
	ErrNotCapturing     = errors.New("no capture in progress")
)
