package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers and logs. The values match the
// error_type strings emitted by internal/log.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found_error"
	KindAuth            Kind = "auth_error"
	KindConflict        Kind = "conflict_error"
	KindStorage         Kind = "database_error"
	KindStorageTimeout  Kind = "timeout_error"
	KindExternalService Kind = "external_service_error"
	KindInternal        Kind = "internal_error"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrAuth            = errors.New("unauthenticated")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("storage failure")
	ErrStorageTimeout  = errors.New("storage timeout")
	ErrExternalService = errors.New("external service failure")
)

var kindSentinels = map[Kind]error{
	KindValidation:      ErrValidation,
	KindNotFound:        ErrNotFound,
	KindAuth:            ErrAuth,
	KindConflict:        ErrConflict,
	KindStorage:         ErrStorage,
	KindStorageTimeout:  ErrStorageTimeout,
	KindExternalService: ErrExternalService,
}

// Error is the typed error returned across service boundaries.
type Error struct {
	Kind    Kind
	Entity  string // field or entity the error refers to, may be empty
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func Validation(entity, message string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Message: message}
}

func NotFound(entity, ref string) *Error {
	msg := entity + " not found"
	if ref != "" {
		msg = fmt.Sprintf("%s %q not found", entity, ref)
	}
	return &Error{Kind: KindNotFound, Entity: entity, Message: msg}
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func Conflict(entity, message string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Message: message}
}

// ExternalService wraps a failure of an outside collaborator.
func ExternalService(service string, err error) *Error {
	return &Error{Kind: KindExternalService, Entity: service, Message: service + " request failed", Err: err}
}

// Storage wraps a store failure for operation op. Typed errors pass
// through unchanged and deadline expiry becomes KindStorageTimeout.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindStorageTimeout, Message: op + " timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op + " failed", Err: err}
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStorageTimeout
	}
	return KindInternal
}
