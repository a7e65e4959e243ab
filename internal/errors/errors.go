// Package errors provides the relay's error taxonomy. Every code maps onto a gRPC status
// code so that retry and breaker decisions can be made from status.FromError alone.
package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies an error category.
type Code int32

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeConfigMissing
	CodeConfigInvalid
	CodeEmptyAudio
	CodeConnect
	CodeUnauthorized
	CodeRateLimited
	CodeCircuitOpen
	CodeSend
	CodeUpstreamTransport
	CodeMalformedEvent
	CodeClientForward
	CodeTimeout
	CodeCancelled
)

var codeNames = map[Code]string{
	CodeUnknown:           "UNKNOWN",
	CodeInternal:          "INTERNAL",
	CodeConfigMissing:     "CONFIG_MISSING",
	CodeConfigInvalid:     "CONFIG_INVALID",
	CodeEmptyAudio:        "EMPTY_AUDIO",
	CodeConnect:           "CONNECT",
	CodeUnauthorized:      "UNAUTHORIZED",
	CodeRateLimited:       "RATE_LIMITED",
	CodeCircuitOpen:       "CIRCUIT_OPEN",
	CodeSend:              "SEND",
	CodeUpstreamTransport: "UPSTREAM_TRANSPORT",
	CodeMalformedEvent:    "MALFORMED_EVENT",
	CodeClientForward:     "CLIENT_FORWARD",
	CodeTimeout:           "TIMEOUT",
	CodeCancelled:         "CANCELLED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", int32(c))
}

// grpcCodeMap maps relay codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:           codes.Unknown,
	CodeInternal:          codes.Internal,
	CodeConfigMissing:     codes.FailedPrecondition,
	CodeConfigInvalid:     codes.InvalidArgument,
	CodeEmptyAudio:        codes.InvalidArgument,
	CodeConnect:           codes.Unavailable,
	CodeUnauthorized:      codes.Unauthenticated,
	CodeRateLimited:       codes.ResourceExhausted,
	CodeCircuitOpen:       codes.FailedPrecondition,
	CodeSend:              codes.Aborted,
	CodeUpstreamTransport: codes.Unavailable,
	CodeMalformedEvent:    codes.DataLoss,
	CodeClientForward:     codes.Aborted,
	CodeTimeout:           codes.DeadlineExceeded,
	CodeCancelled:         codes.Canceled,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error renders "message: cause". The code is left to LogValue so that the
// text stays readable when it is shown to a client.
func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// LogValue implements slog.LogValuer.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code.String()),
		slog.String("message", e.Message),
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError, and so resilience.IsRetryableGRPC,
// classify AppErrors through their mapped code.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the failure is transient on the upstream side.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConnect, CodeRateLimited, CodeTimeout:
		return true
	default:
		return false
	}
}
