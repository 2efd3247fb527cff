package casting

import "errors"

// ErrInvalidInput is returned when operator input fails validation.
var ErrInvalidInput = errors.New("casting: invalid input")

// ErrDuplicateSource is returned when a source with the same type and
// identifier is already registered.
var ErrDuplicateSource = errors.New("casting: source already registered")

// ErrMissingCredentials aborts a run before any source is touched.
var ErrMissingCredentials = errors.New("casting: missing credentials")

// ErrRunInProgress is returned by RunOnce while another run of the same
// Service has not finished.
var ErrRunInProgress = errors.New("casting: run already in progress")

// ErrNotFound is returned for unknown source or candidate ids.
var ErrNotFound = errors.New("casting: not found")

// ErrInvalidTransition is returned when a moderation decision targets a
// candidate that is no longer pending_review, or names a status other than
// live or rejected.
var ErrInvalidTransition = errors.New("casting: invalid moderation transition")
