package connectivity

import "fmt"

// StatusError is returned when an upstream service answers with a
// non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("connectivity: %s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("connectivity: %s: status %d: %s", e.Service, e.StatusCode, e.Body)
}

// ErrCallTimeout is returned when a call exceeds its timeout.
type ErrCallTimeout struct {
	Service string
	Cause   error
}

func (e *ErrCallTimeout) Error() string {
	return fmt.Sprintf("connectivity: call timeout: %s", e.Service)
}

func (e *ErrCallTimeout) Unwrap() error { return e.Cause }

// ErrCircuitOpen is returned when the breaker for a service is open and the
// call was rejected without reaching the upstream.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}
