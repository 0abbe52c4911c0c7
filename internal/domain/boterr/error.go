// Package boterr defines the error taxonomy shared by every component;
// callers branch on Kind instead of matching error strings.
package boterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the recovery action it implies.
type Kind string

const (
	KindTransient   Kind = "transient"   // Rate limit or network blip, retry per component policy
	KindTerminal    Kind = "terminal"    // Engine reported failed/cancelled/expired, no retry
	KindTimeout     Kind = "timeout"     // Local budget exceeded, remote cancel already attempted
	KindUnsupported Kind = "unsupported" // Engine requested a capability the runner cannot perform
	KindInput       Kind = "input"       // Empty text, unintelligible audio, user should rephrase
	KindBusy        Kind = "busy"        // A previous turn for the conversation is still in flight
	KindConfig      Kind = "config"      // Missing credentials or handles, fatal at startup
	KindInternal    Kind = "internal"    // Anything else, user gets the generic failure notice
)

// Error carries a machine readable code and kind alongside the wrapped cause.
type Error struct {
	Code    string
	Message string
	Kind    Kind
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with the given code, message and kind.
func New(code, message string, kind Kind) *Error {
	return &Error{Code: code, Message: message, Kind: kind}
}

// Wrap attaches a cause to a new classified error.
func Wrap(err error, code, message string, kind Kind) *Error {
	return &Error{Code: code, Message: message, Kind: kind, Cause: err}
}

// KindOf extracts the kind from any error; unclassified errors are internal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// Common error codes.
const (
	CodeRateLimit      = "RATE_LIMIT"
	CodeEngineFailed   = "ENGINE_FAILED"
	CodeRunTimeout     = "RUN_TIMEOUT"
	CodeUnsupported    = "UNSUPPORTED_ACTION"
	CodeBusy           = "CONVERSATION_BUSY"
	CodeQueueFull      = "QUEUE_FULL"
	CodeEmptyInput     = "EMPTY_INPUT"
	CodeUnintelligible = "UNINTELLIGIBLE_AUDIO"
	CodeTranscode      = "TRANSCODE_FAILED"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// UserNotice maps an error to the single short notice shown to the end user.
// Every failure path funnels through here so one failure never produces two
// messages and the user always knows the next action to take.
func UserNotice(err error) string {
	switch KindOf(err) {
	case KindBusy:
		return "I'm still working on your previous message. Give me a moment."
	case KindTimeout:
		return "That took too long to answer. Please try again."
	case KindUnsupported:
		return "That needs a feature I don't support yet, so I stopped. Try asking differently."
	case KindInput:
		var be *Error
		if errors.As(err, &be) && be.Code == CodeUnintelligible {
			return "I couldn't make out that voice note. Could you record it again, a bit closer to the microphone?"
		}
		return "I couldn't understand that. Could you rephrase it?"
	case KindTransient:
		return "The service is a little overloaded right now. Please try again in a minute."
	default:
		return "Something went wrong while processing your message. Please try again."
	}
}
