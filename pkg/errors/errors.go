package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the failure classes a crawl can run into
type ErrorType string

const (
	// ErrorTypeTransport covers timeouts, connection failures and non-200 responses.
	ErrorTypeTransport ErrorType = "transport_failure"
	// ErrorTypeChallengeUnsolvable covers missing challenge parameters,
	// oracle failures and rejected solutions.
	ErrorTypeChallengeUnsolvable ErrorType = "challenge_unsolvable"
	// ErrorTypeStructuralAnomaly covers pages whose markup no longer matches
	// what the parser expects.
	ErrorTypeStructuralAnomaly ErrorType = "structural_anomaly"
	// ErrorTypeSourceUnavailable covers a missing or empty proxy list.
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
)

// Scope tells the driver how far a failure reaches
type Scope int

const (
	// ScopeProxy failures abandon the current proxy and keep crawling.
	ScopeProxy Scope = iota
	// ScopeRun failures end the run.
	ScopeRun
)

func (s Scope) String() string {
	if s == ScopeRun {
		return "run"
	}
	return "proxy"
}

// Error is a classified crawl failure
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	URL     string
	Proxy   string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on error type so errors.Is(err, &Error{Type: ...}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// Fields returns the error's attributes in a shape the logger accepts
func (e *Error) Fields() map[string]interface{} {
	fields := map[string]interface{}{"error_type": string(e.Type)}
	if e.URL != "" {
		fields["url"] = e.URL
	}
	if e.Proxy != "" {
		fields["proxy"] = e.Proxy
	}
	if e.Code != 0 {
		fields["status"] = e.Code
	}
	return fields
}

// Transport builds a TransportFailure
func Transport(url, proxy string, code int, err error) *Error {
	msg := "request failed"
	if code != 0 {
		msg = "unexpected response status"
	}
	return &Error{Type: ErrorTypeTransport, Message: msg, Code: code, URL: url, Proxy: proxy, Err: err}
}

// ChallengeUnsolvable builds a ChallengeUnsolvable error
func ChallengeUnsolvable(message string, err error) *Error {
	return &Error{Type: ErrorTypeChallengeUnsolvable, Message: message, Err: err}
}

// StructuralAnomaly builds a StructuralAnomaly error
func StructuralAnomaly(url, message string) *Error {
	return &Error{Type: ErrorTypeStructuralAnomaly, Message: message, URL: url}
}

// SourceUnavailable builds a SourceUnavailable error
func SourceUnavailable(message string, err error) *Error {
	return &Error{Type: ErrorTypeSourceUnavailable, Message: message, Err: err}
}

// TypeOf extracts the ErrorType from err, or "" if err is not classified
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// ScopeOf decides whether a failure abandons only the current proxy or the
// whole run. Unclassified errors end the run.
func ScopeOf(err error) Scope {
	switch TypeOf(err) {
	case ErrorTypeTransport, ErrorTypeChallengeUnsolvable:
		return ScopeProxy
	default:
		return ScopeRun
	}
}
