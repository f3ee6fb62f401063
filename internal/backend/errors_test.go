package backend

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Code
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: CodeAuthExpired},
		{name: "badRequest", status: http.StatusBadRequest, want: CodeValidation},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, want: CodeValidation},
		{name: "notFound", status: http.StatusNotFound, want: CodeNotFound},
		{name: "conflict", status: http.StatusConflict, want: CodeChannelMismatch},
		{name: "serverError", status: http.StatusInternalServerError, want: CodeServerRejected},
		{name: "badGateway", status: http.StatusBadGateway, want: CodeServerRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, "")
			if got.Code != tt.want {
				t.Errorf("Classify(%d) code = %q, want %q", tt.status, got.Code, tt.want)
			}
			if got.Status != tt.status {
				t.Errorf("Classify(%d) status = %d", tt.status, got.Status)
			}
			if got.Reason == "" {
				t.Error("Classify() should always produce a human-readable reason")
			}
		})
	}
}

func TestClassifyStaleSessionMessages(t *testing.T) {
	// One case per message variant the backend has been observed to emit.
	tests := []struct {
		name    string
		status  int
		message string
		want    Code
	}{
		{name: "sessionExpired", status: http.StatusBadRequest, message: "session expired", want: CodeAuthExpired},
		{name: "tokenExpired", status: http.StatusForbidden, message: "Token expired, please reopen", want: CodeAuthExpired},
		{name: "invalidToken", status: http.StatusBadRequest, message: "invalid token", want: CodeAuthExpired},
		{name: "invalidSession", status: http.StatusConflict, message: "Invalid session for table", want: CodeAuthExpired},
		{name: "sessionClosed", status: http.StatusBadRequest, message: "session closed by staff", want: CodeAuthExpired},
		{name: "invalidPayloadNotAuth", status: http.StatusBadRequest, message: "invalid payload", want: CodeValidation},
		{name: "closedKitchenNotAuth", status: http.StatusBadRequest, message: "kitchen is closed", want: CodeValidation},
		{name: "plainNotFound", status: http.StatusNotFound, message: "table not found", want: CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, tt.message)
			if got.Code != tt.want {
				t.Errorf("Classify(%d, %q) code = %q, want %q", tt.status, tt.message, got.Code, tt.want)
			}
		})
	}
}

func TestClassifyKeepsMessageAsReason(t *testing.T) {
	got := Classify(http.StatusNotFound, "table A-10 is inactive")
	if got.Reason != "table A-10 is inactive" {
		t.Errorf("Reason = %q, want backend message preserved", got.Reason)
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{
			name: "matchingCode",
			err:  &Error{Code: CodeAuthExpired, Status: 401},
			code: CodeAuthExpired,
			want: true,
		},
		{
			name: "wrappedError",
			err:  errors.Join(errors.New("submit failed"), &Error{Code: CodeNotFound, Status: 404}),
			code: CodeNotFound,
			want: true,
		},
		{
			name: "differentCode",
			err:  &Error{Code: CodeValidation, Status: 400},
			code: CodeAuthExpired,
			want: false,
		},
		{
			name: "plainError",
			err:  errors.New("boom"),
			code: CodeAuthExpired,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	err := TransportError(errors.New("connection refused"))
	if err.Code != CodeTransport {
		t.Errorf("Code = %q, want %q", err.Code, CodeTransport)
	}
	if err.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failures", err.Status)
	}
}
