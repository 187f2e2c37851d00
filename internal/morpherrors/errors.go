// Package morpherrors defines the structured error taxonomy used across the
// build engine, so that the plan executor and the distributed controller can
// make retry/propagation decisions by type rather than by string matching.
package morpherrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomy entries from the error handling design.
type Kind string

const (
	KindInvalidMorphology     Kind = "invalid_morphology"
	KindDependencyCycle       Kind = "dependency_cycle"
	KindUnsatisfiedDependency Kind = "unsatisfied_dependency"
	KindSourceUnavailable     Kind = "source_unavailable"
	KindBuildCommandFailed    Kind = "build_command_failed"
	KindCacheIOError          Kind = "cache_io_error"
	KindWorkerDisconnected    Kind = "worker_disconnected"
	KindProtocolError         Kind = "protocol_error"
	KindCancelled             Kind = "cancelled"
)

// Error is the concrete carrier for every taxonomy entry. Context is a small
// bag of structured fields (unit name, phase, exit code, ...) rather than a
// formatted string, so callers can inspect it without re-parsing Error().
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func InvalidMorphology(path, reason string) *Error {
	return newErr(KindInvalidMorphology, reason, nil).WithContext("path", path)
}

func DependencyCycle(path []string) *Error {
	return newErr(KindDependencyCycle, "cyclic dependency detected", nil).WithContext("path", path)
}

func UnsatisfiedDependency(name string) *Error {
	return newErr(KindUnsatisfiedDependency, "dependency not found", nil).WithContext("name", name)
}

func SourceUnavailable(repo, ref string, cause error) *Error {
	return newErr(KindSourceUnavailable, "could not resolve source", cause).
		WithContext("repo", repo).WithContext("ref", ref)
}

func BuildCommandFailed(unit, phase string, exitCode int, cause error) *Error {
	return newErr(KindBuildCommandFailed, "build command failed", cause).
		WithContext("unit", unit).WithContext("phase", phase).WithContext("exit_code", exitCode)
}

func CacheIOError(key string, cause error) *Error {
	return newErr(KindCacheIOError, "cache I/O failed", cause).WithContext("key", key)
}

func WorkerDisconnected(workerID string, cause error) *Error {
	return newErr(KindWorkerDisconnected, "worker disconnected", cause).WithContext("worker_id", workerID)
}

func ProtocolError(reason string) *Error {
	return newErr(KindProtocolError, reason, nil)
}

func Cancelled(requestID string) *Error {
	return newErr(KindCancelled, "cancelled by initiator", nil).WithContext("request_id", requestID)
}

// Retryable reports whether the worker (not the controller) should retry the
// operation that produced this error before surfacing it upward. Only
// CacheIOError is worker-retryable per the propagation policy; everything
// else is either fatal-to-unit, fatal-to-request, or a non-error terminal
// state.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCacheIOError
	}
	return false
}

// FatalToRequest reports whether err should abort the whole build request
// rather than just the owning unit.
func FatalToRequest(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindInvalidMorphology, KindDependencyCycle, KindUnsatisfiedDependency:
			return true
		}
	}
	return false
}

// As is re-exported so callers need only import this package for both
// construction and inspection of taxonomy errors.
func As(err error, target interface{}) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }

func Wrap(err error, message string) error { return errors.Wrap(err, message) }
