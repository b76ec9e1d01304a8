package stokado

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an authorization request was rejected.
type ErrorKind string

const (
	KindMissingSignature  ErrorKind = "MissingSignature"
	KindMalformedRequest  ErrorKind = "MalformedRequest"
	KindExpired           ErrorKind = "Expired"
	KindInvalidSigner     ErrorKind = "InvalidSigner"
	KindInvalidSignature  ErrorKind = "InvalidSignature"
	KindInvalidUploadPath ErrorKind = "InvalidUploadPath"
	KindUnknown           ErrorKind = "Unknown"
)

// Sentinel errors, one per kind, so callers can use errors.Is.
var (
	ErrMissingSignature  = errors.New("signature required")
	ErrMalformedRequest  = errors.New("invalid request")
	ErrExpired           = errors.New("request has expired")
	ErrInvalidSigner     = errors.New("invalid signer provided")
	ErrInvalidSignature  = errors.New("invalid signature provided")
	ErrInvalidUploadPath = errors.New("invalid upload path")
	ErrUnknown           = errors.New("unknown error")
)

var kindSentinels = map[ErrorKind]error{
	KindMissingSignature:  ErrMissingSignature,
	KindMalformedRequest:  ErrMalformedRequest,
	KindExpired:           ErrExpired,
	KindInvalidSigner:     ErrInvalidSigner,
	KindInvalidSignature:  ErrInvalidSignature,
	KindInvalidUploadPath: ErrInvalidUploadPath,
	KindUnknown:           ErrUnknown,
}

// Error is the typed failure returned by the request authorizer.
// Message, when set, is a client-facing description; Err is the cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of err. Errors that did not come from the
// authorizer are reported as KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
