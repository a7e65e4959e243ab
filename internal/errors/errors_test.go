package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"message only", New(CodeEmptyAudio, "Audio data is empty"), "Audio data is empty"},
		{"with cause", Wrap(stderrors.New("dial tcp: refused"), CodeConnect, "connect upstream"), "connect upstream: dial tcp: refused"},
		{"formatted", Newf(CodeSend, "send %s", "session.update"), "send session.update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrapf(cause, CodeUpstreamTransport, "read %s", "event")
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestCodeOfWrapped(t *testing.T) {
	inner := New(CodeMalformedEvent, "bad event")
	outer := fmt.Errorf("session: %w", inner)

	if got := CodeOf(outer); got != CodeMalformedEvent {
		t.Errorf("CodeOf() = %v, want %v", got, CodeMalformedEvent)
	}
	if !IsCode(outer, CodeMalformedEvent) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(nil, CodeUnknown) {
		t.Error("IsCode(nil) should be false")
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain) = %v, want %v", got, CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeConnect, codes.Unavailable},
		{CodeUnauthorized, codes.Unauthenticated},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeCircuitOpen, codes.FailedPrecondition},
		{CodeMalformedEvent, codes.DataLoss},
		{CodeTimeout, codes.DeadlineExceeded},
		{CodeCancelled, codes.Canceled},
		{Code(999), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := New(tt.code, "x").GRPCCode(); got != tt.want {
				t.Errorf("GRPCCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGRPCStatus(t *testing.T) {
	err := fmt.Errorf("session: %w", New(CodeUnauthorized, "upstream rejected handshake"))

	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("status.FromError should recognise a wrapped AppError")
	}
	if st.Code() != codes.Unauthenticated {
		t.Errorf("code = %v, want %v", st.Code(), codes.Unauthenticated)
	}
	if got := CodeOf(status.Error(codes.Canceled, "gone")); got != CodeUnknown {
		t.Errorf("CodeOf(plain status) = %v, want %v", got, CodeUnknown)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(CodeConnect, "x"), true},
		{New(CodeRateLimited, "x"), true},
		{New(CodeTimeout, "x"), true},
		{New(CodeUnauthorized, "x"), false},
		{New(CodeMalformedEvent, "x"), false},
		{stderrors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCodeString(t *testing.T) {
	if got := CodeClientForward.String(); got != "CLIENT_FORWARD" {
		t.Errorf("String() = %q, want %q", got, "CLIENT_FORWARD")
	}
	if got := Code(42).String(); got != "CODE_42" {
		t.Errorf("String() = %q, want %q", got, "CODE_42")
	}
}
