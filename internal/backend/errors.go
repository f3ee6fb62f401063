package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a structured error category for backend responses. The backend is
// mid-migration and still returns free-text messages for some failures, so
// Classify maps both status codes and known message fragments onto these.
type Code string

const (
	CodeAuthExpired     Code = "auth_expired"
	CodeChannelMismatch Code = "channel_mismatch"
	CodeValidation      Code = "validation"
	CodeNotFound        Code = "not_found"
	CodeTransport       Code = "transport"
	CodeServerRejected  Code = "server_rejected"
)

// Error carries the classified code, the HTTP status (0 for transport
// failures) and a short human-readable reason suitable for display.
type Error struct {
	Code   Code
	Status int
	Reason string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("backend rejected request (status %d)", e.Status)
}

// IsCode reports whether err wraps a backend Error with the given code.
func IsCode(err error, code Code) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == code
}

// staleSessionFragments are the message fragments the backend is known to use
// when a session token can no longer be used. The fragment match only applies
// when the message also mentions the session or token, so that unrelated
// validation messages ("invalid payload") are not misread as auth failures.
var staleSessionFragments = []string{
	"expired",
	"invalid",
	"closed",
}

func looksLikeStaleSession(message string) bool {
	m := strings.ToLower(message)
	if !strings.Contains(m, "session") && !strings.Contains(m, "token") {
		return false
	}
	for _, fragment := range staleSessionFragments {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

// Classify maps a backend response onto a structured Error. The message is
// consulted only for the stale-session case; everything else is decided by
// status alone.
func Classify(status int, message string) *Error {
	reason := strings.TrimSpace(message)

	if status == http.StatusUnauthorized || looksLikeStaleSession(message) {
		if reason == "" {
			reason = "session is no longer valid"
		}
		return &Error{Code: CodeAuthExpired, Status: status, Reason: reason}
	}

	switch {
	case status == http.StatusNotFound:
		if reason == "" {
			reason = "not found"
		}
		return &Error{Code: CodeNotFound, Status: status, Reason: reason}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if reason == "" {
			reason = "request was rejected as invalid"
		}
		return &Error{Code: CodeValidation, Status: status, Reason: reason}
	case status == http.StatusConflict:
		if reason == "" {
			reason = "request conflicts with current state"
		}
		return &Error{Code: CodeChannelMismatch, Status: status, Reason: reason}
	default:
		if reason == "" {
			reason = "service is unavailable, try again later"
		}
		return &Error{Code: CodeServerRejected, Status: status, Reason: reason}
	}
}

// TransportError wraps a network-level failure so callers can tell it apart
// from a backend rejection.
func TransportError(err error) *Error {
	return &Error{Code: CodeTransport, Reason: fmt.Sprintf("could not reach service: %v", err)}
}
