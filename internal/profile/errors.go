package profile

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks caller misuse: empty or oversized fields, unknown
// enum values, malformed custom fields.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidQuery is returned by Relevant for an empty query. It wraps
// ErrInvalidInput so callers can check for either.
var ErrInvalidQuery = fmt.Errorf("%w: empty recall query", ErrInvalidInput)
