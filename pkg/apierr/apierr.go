// Package apierr defines the error taxonomy shared by the Graph client packages.
//
// Every failure surfaced by the client, the signed request codec and the
// batch submitter is an *Error carrying a Kind discriminant. Callers narrow
// with the predicates in this package instead of matching messages:
//
//	if apierr.IsAuth(err) {
//		// refresh credentials
//	}
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	// KindTransport represents network, connect and timeout failures.
	KindTransport Kind = "transport"

	// KindRemote represents a structured error returned by the Graph API.
	KindRemote Kind = "remote"

	// KindAuth represents a remote error flagged as an OAuth failure.
	KindAuth Kind = "auth"

	// KindToken represents a malformed or forged signed request.
	KindToken Kind = "token"

	// KindUsage represents an invalid argument supplied by the caller.
	KindUsage Kind = "usage"
)

// OAuthExceptionType is the remote error type that marks authentication
// and authorization failures.
const OAuthExceptionType = "OAuthException"

// Error is the single error type of the client packages.
type Error struct {
	Kind Kind

	// Message is the human readable error message.
	Message string

	// Type is the remote error type (e.g. "OAuthException").
	Type string

	// Code and Subcode are the remote error codes (0 when absent).
	Code    int
	Subcode int

	// IsTransient is set when the remote marks the error as temporary.
	IsTransient bool

	// UserTitle and UserMessage are the end-user facing texts, if any.
	UserTitle   string
	UserMessage string

	// TraceID is the remote trace identifier (fbtrace_id).
	TraceID string

	// StatusCode is the HTTP status of the response that produced the error.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("[%d] %s", e.Code, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("graph %s error: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("graph %s error: %s", e.Kind, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRemote reports whether the error came from the remote service.
// Auth errors are remote errors too.
func (e *Error) IsRemote() bool {
	return e.Kind == KindRemote || e.Kind == KindAuth
}

// Transport wraps a connectivity failure.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: "request failed", Err: err}
}

// Remote builds a remote error with a message and code.
func Remote(message string, code int) *Error {
	return &Error{Kind: KindRemote, Message: message, Code: code}
}

// Usage builds an error for an invalid caller argument.
func Usage(format string, args ...any) *Error {
	return &Error{Kind: KindUsage, Message: fmt.Sprintf(format, args...)}
}

// Token builds an error for an invalid signed request.
func Token(format string, args ...any) *Error {
	return &Error{Kind: KindToken, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransport returns true if err is a transport error.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsRemote returns true if err is a remote or auth error.
func IsRemote(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsRemote()
}

// IsAuth returns true if err is a remote OAuth error.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsToken returns true if err is a signed request error.
func IsToken(err error) bool {
	return KindOf(err) == KindToken
}

// IsUsage returns true if err is a caller usage error.
func IsUsage(err error) bool {
	return KindOf(err) == KindUsage
}
