// Package providers holds what the card rail and bank transfer gateways share:
// the typed provider error, error sanitization and the breaker-guarded transport.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

var (
	ErrCircuitOpen = errors.New("provider circuit breaker open")
	ErrTimeout     = errors.New("provider request timed out")
)

// Error is a failed provider call
type Error struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Temporary  bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// NewStatusError classifies a non-2xx reply. 408, 429 and 5xx are temporary.
func NewStatusError(provider string, status int, code, message string) *Error {
	return &Error{
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Temporary:  status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500,
	}
}

// IsTemporary reports whether err is worth retrying later: timeouts, an open
// breaker, transport failures and temporary provider replies.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	var te *TransportError
	return errors.As(err, &te)
}

// TransportError is a request that never produced a provider reply
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Sanitize maps err to text safe to store on a transaction or show an operator
// dashboard. Provider messages and transport details are dropped.
func Sanitize(err error) string {
	var pe *Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "payout provider temporarily unavailable"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "payout provider timed out"
	case errors.As(err, &pe):
		if pe.Code != "" {
			return fmt.Sprintf("%s rejected the request (%s)", pe.Provider, pe.Code)
		}
		return fmt.Sprintf("%s rejected the request (status %d)", pe.Provider, pe.StatusCode)
	default:
		return "payout request could not be completed"
	}
}
