package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrInvariantViolation is returned when decoded data passed validation but
// breaks a structural invariant later on, while building trees or rollups.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrNotBuilt is returned by accessors called before the matching Build step.
var ErrNotBuilt = errors.New("not built")

// ErrNoResults represents situations in which no results were returned by the called API.
var ErrNoResults = errors.New("no results returned")
