package engine

import "errors"

var (
	// ErrBackendUnavailable marks a failed or timed-out backend call. It is
	// logged and answered with a fallback, never returned to callers.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrMalformedOutput marks backend text that does not parse into the
	// expected shape. The heuristic extractor takes over when it occurs.
	ErrMalformedOutput = errors.New("malformed backend output")
)
