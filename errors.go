package fluxe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultErrorMessage is the message used when neither the server nor the
// caller supplies one.
const DefaultErrorMessage = "Something went wrong"

// FailureKind categorizes transport outcomes surfaced to callers.
type FailureKind int

const (
	NetworkFailure    FailureKind = iota + 1 // no response
	AuthFailure                              // 401 after refresh failed or was not attempted
	ValidationFailure                        // 4xx with a field-level message
	ServerFailure                            // any other non-2xx
)

func (k FailureKind) String() string {
	switch k {
	case NetworkFailure:
		return "network"
	case AuthFailure:
		return "auth"
	case ValidationFailure:
		return "validation"
	case ServerFailure:
		return "server"
	}
	return "unknown"
}

// Failure is the error type returned by every client operation.
type Failure struct {
	Kind    FailureKind
	Status  int    // HTTP status, 0 for network and local failures
	Message string // human-readable, server-supplied when available
	Field   string // offending field for validation failures
	Err     error  // underlying cause, if any

	rateLimited bool
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = DefaultErrorMessage
	}
	if f.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, f.Status)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %s: %v", f.Kind, msg, f.Err)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error { return f.Err }

// RateLimited reports whether the failure came from a 429 or the local limiter.
func (f *Failure) RateLimited() bool { return f.rateLimited }

func failureKind(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// IsNetworkFailure reports whether err is a NetworkFailure.
func IsNetworkFailure(err error) bool { return failureKind(err) == NetworkFailure }

// IsAuthFailure reports whether err is an AuthFailure.
func IsAuthFailure(err error) bool { return failureKind(err) == AuthFailure }

// IsValidationFailure reports whether err is a ValidationFailure.
func IsValidationFailure(err error) bool { return failureKind(err) == ValidationFailure }

// IsServerFailure reports whether err is a ServerFailure.
func IsServerFailure(err error) bool { return failureKind(err) == ServerFailure }

// ErrorMessage maps any error to a message fit for display.
func ErrorMessage(err error, fallback string) string {
	if fallback == "" {
		fallback = DefaultErrorMessage
	}
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return fallback
}

// withFallback returns err with an operation-specific message attached when
// the server did not supply one. The original failure is not mutated.
func withFallback(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if !errors.As(err, &f) {
		return &Failure{Kind: NetworkFailure, Message: fallback, Err: err}
	}
	if f.Message != "" {
		return err
	}
	cp := *f
	cp.Message = fallback
	return &cp
}

// classifyResponse builds the failure for a non-2xx response.
func classifyResponse(status int, body []byte) *Failure {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Field   string `json:"field"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error
	if msg == "" {
		msg = errResp.Message
	}

	f := &Failure{Status: status, Message: msg, Field: errResp.Field}
	switch status {
	case 401:
		f.Kind = AuthFailure
	case 400, 409, 422:
		f.Kind = ValidationFailure
	case 429:
		f.Kind = ServerFailure
		f.rateLimited = true
	default:
		f.Kind = ServerFailure
	}
	return f
}

// parseRateLimitReset reads Retry-After (seconds) or X-Rate-Limit-Reset
// (unix timestamp). Falls back to one minute from now if both are missing
// or invalid.
func parseRateLimitReset(headers map[string]string) time.Time {
	if v := headers["retry-after"]; v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if v := headers["x-rate-limit-reset"]; v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(ts, 0)
		}
	}
	return time.Now().Add(time.Minute)
}
