package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure so callers can react without parsing messages
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuthority  Kind = "authority"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
)

// Error is the error type returned by every store and service in trellis
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "members.invite"
	Message string // human-readable cause
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports input rejected locally before any mutation was attempted
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a dangling reference to a role, accessor, member or similar
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate, e.g. an accessor email already used under the same owner
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Authority reports a write the store refused, including writes that affected zero rows
func Authority(op, format string, args ...any) error {
	return &Error{Kind: KindAuthority, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Transport reports an unreachable store or notifier
func Transport(op, message string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Message: message, Err: err}
}

// Wrap classifies err coming from the store. Connectivity failures become
// Transport errors, anything else Internal. Already classified errors pass through.
func Wrap(op, message string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if isTransport(err) {
		return Transport(op, message, err)
	}
	return &Error{Kind: KindInternal, Op: op, Message: message, Err: err}
}

func isTransport(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
func IsAuthority(err error) bool  { return err != nil && KindOf(err) == KindAuthority }
func IsTransport(err error) bool  { return err != nil && KindOf(err) == KindTransport }

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthority:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
