package hilltop

import "errors"

// ErrInvalidInput is wrapped by every error caused by unusable arguments:
// missing or empty images, mismatched dimensions, or out-of-range
// parameters. Callers match it with errors.Is.
var ErrInvalidInput = errors.New("invalid input")
