// Package errors provides the outbound call error taxonomy shared by the
// resilience layer, the fetch client and their callers.
package errors

import (
	"errors"
	"fmt"
)

// FetchErrorKind represents the class of an outbound call failure.
type FetchErrorKind int

const (
	// KindUnknown represents an unclassified failure.
	KindUnknown FetchErrorKind = iota
	// KindTimeout represents a deadline exceeded by the network call or the circuit breaker.
	KindTimeout
	// KindHTTP represents a non-2xx provider response. Status carries the code.
	KindHTTP
	// KindNetwork represents connection failures and unparsable response bodies.
	KindNetwork
	// KindHostNotAllowed represents a request to a host outside the allowlist.
	KindHostNotAllowed
	// KindRateLimited represents a local rate limiter rejection.
	KindRateLimited
	// KindCircuitOpen represents a rejection by an open circuit breaker.
	KindCircuitOpen
)

// String returns the kind name used in log fields.
func (k FetchErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	case KindHostNotAllowed:
		return "host_not_allowed"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Bucket maps a kind to the tag surfaced to callers: timeout, http or network.
// Disallowed hosts and unknown failures are reported as network errors.
func (k FetchErrorKind) Bucket() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	default:
		return "network"
	}
}

// FetchError wraps an outbound call failure with classification information.
type FetchError struct {
	Kind    FetchErrorKind
	Target  string // circuit breaker / rate limiter key
	Status  int    // HTTP status code, only set for KindHTTP
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Kind == KindHTTP && e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", e.Target, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
//
//   - Timeout, Network and RateLimited are transient.
//   - HTTP 429 and 5xx are transient, other statuses are not.
//   - HostNotAllowed is a security boundary and never retried.
//   - CircuitOpen is not retried within the same call: the breaker state
//     will not change during the burst.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindRateLimited:
		return true
	case KindHTTP:
		return e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}

// NewTimeoutError creates a timeout error for target.
func NewTimeoutError(target string, err error) *FetchError {
	return &FetchError{Kind: KindTimeout, Target: target, Message: "request timed out", Err: err}
}

// NewHTTPError creates an HTTP status error for target.
func NewHTTPError(target string, status int, body string) *FetchError {
	msg := "unexpected status"
	if body != "" {
		msg = "unexpected status: " + truncate(body, 256)
	}
	return &FetchError{Kind: KindHTTP, Target: target, Status: status, Message: msg}
}

// NewNetworkError creates a network class error for target.
func NewNetworkError(target string, msg string, err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Target: target, Message: msg, Err: err}
}

// NewHostNotAllowedError creates the allowlist rejection for host.
func NewHostNotAllowedError(host string) *FetchError {
	return &FetchError{Kind: KindHostNotAllowed, Target: host, Message: fmt.Sprintf("host not allowed: %s", host)}
}

// NewRateLimitedError creates a local throttling error for target.
func NewRateLimitedError(target string, err error) *FetchError {
	return &FetchError{Kind: KindRateLimited, Target: target, Message: "rate limit exceeded", Err: err}
}

// NewCircuitOpenError creates a circuit open error for target.
func NewCircuitOpenError(target string, err error) *FetchError {
	return &FetchError{Kind: KindCircuitOpen, Target: target, Message: "circuit open", Err: err}
}

// KindOf returns the kind of the first FetchError in err's chain, or KindUnknown.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// IsRetryable checks if the error is a transient outbound failure.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}

// IsCircuitOpen checks if the error is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	return KindOf(err) == KindCircuitOpen
}

// IsRateLimited checks if the error is a local rate limiter rejection.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsHostNotAllowed checks if the error is an allowlist rejection.
func IsHostNotAllowed(err error) bool {
	return KindOf(err) == KindHostNotAllowed
}

// IsTimeout checks if the error is a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
