// Package axerr defines the error taxonomy shared across AXON's
// transport, identity, and control-socket layers. Every sentinel carries a
// stable machine-readable Code so callers at any layer can recover it with
// errors.As, even after it has been wrapped with additional context.
package axerr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error identifier, stable across releases.
type Code string

const (
	CodeSizeExceeded     Code = "size_exceeded"
	CodeTruncated        Code = "truncated"
	CodeInvalidJSON      Code = "invalid_json"
	CodeHandshakeFailed  Code = "handshake_failed"
	CodeIdleTimeout      Code = "idle_timeout"
	CodeUnknownPeer      Code = "unknown_peer"
	CodePubkeyMismatch   Code = "pubkey_mismatch"
	CodeIdentityMismatch Code = "identity_mismatch"
	CodeInvalidReplyKind Code = "invalid_reply_kind"
	CodeUnknownKind      Code = "unknown_kind"
	CodeFromMismatch     Code = "from_mismatch"
	CodeUnhandled        Code = "unhandled"
	CodeInvalidEnvelope  Code = "invalid_envelope"
	CodeInvalidCommand   Code = "invalid_command"
	CodeCommandTooLarge  Code = "command_too_large"
	CodePeerNotFound     Code = "peer_not_found"
	CodeSelfSend         Code = "self_send"
	CodePeerUnreachable  Code = "peer_unreachable"
	CodeTimeout          Code = "timeout"
	CodeConnLimit        Code = "connection_limit_reached"
	CodeQueueOverflow    Code = "queue_overflow"
	CodeInternal         Code = "internal_error"
)

// Error is a typed AXON error carrying a stable Code and a human-readable
// message suggesting the next action.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
