package model

import (
	"errors"
	"net/http"
)

// Kind is a stable category for programmatic error handling.
//
// These categories are intended to remain stable across versions.
// Callers should branch on Kind rather than matching error strings.
type Kind string

const (
	// Validation errors. Surfaced to the caller; no state change.
	KindInvalidSchemaVersion Kind = "InvalidSchemaVersion"
	KindInvalidPayloadHash   Kind = "InvalidPayloadHash"
	KindMissingRequiredField Kind = "MissingRequiredField"
	KindInvalidTimestamp     Kind = "InvalidTimestamp"
	KindInvalidScalar        Kind = "InvalidScalar"
	KindDuplicateKey         Kind = "DuplicateKey"
	KindNonStringKey         Kind = "NonStringKey"
	KindCycleDetected        Kind = "CycleDetected"
	KindCanonicalizationFail Kind = "CanonicalizationFailed"

	// Semantic errors. Surfaced to the caller; no state change.
	KindDuplicateAnchor           Kind = "DuplicateAnchor"
	KindCheckpointOutOfOrder      Kind = "CheckpointOutOfOrder"
	KindProducerStateNonCanonical Kind = "ProducerStateNonCanonical"
	KindCIDMismatch               Kind = "CIDMismatch"

	// Integrity errors. Reported by verification; never auto-repaired.
	KindCorruptEntry     Kind = "CorruptEntry"
	KindHashMismatch     Kind = "HashMismatch"
	KindInvalidSignature Kind = "InvalidSignature"
	KindBrokenChain      Kind = "BrokenChain"

	// Infrastructure errors. Transient; the calling adapter may retry.
	// Signing is never retried by the core.
	KindStorageError   Kind = "StorageError"
	KindKeyUnavailable Kind = "KeyUnavailable"
	KindUnknownKey     Kind = "UnknownKey"
	KindStreamLocked   Kind = "StreamLocked"
	KindTimeout        Kind = "Timeout"
	KindNotFound       Kind = "NotFound"
)

// Error is the core's structured error type.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError builds a tagged error value.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError tags cause with kind, preserving the chain for errors.Is/As.
func WrapError(kind Kind, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, msg)
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// HTTPStatus maps an error kind to the transport status the HTTP adapter
// must return for it. Unknown kinds map to 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidSchemaVersion, KindInvalidPayloadHash, KindMissingRequiredField, KindInvalidTimestamp:
		return http.StatusBadRequest
	case KindDuplicateAnchor:
		return http.StatusConflict
	case KindCanonicalizationFail, KindInvalidScalar, KindDuplicateKey, KindNonStringKey, KindCycleDetected, KindProducerStateNonCanonical:
		return http.StatusUnprocessableEntity
	case KindKeyUnavailable:
		return http.StatusInternalServerError
	case KindStorageError, KindStreamLocked:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
