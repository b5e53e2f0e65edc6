package leave

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per outcome kind. Match with errors.Is.
var (
	ErrInvalidWindow        = errors.New("invalid_window")
	ErrAlreadyPending       = errors.New("already_pending")
	ErrNotInCampus          = errors.New("not_in_campus")
	ErrRequestNotFound      = errors.New("request_not_found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAlreadyFinalized     = errors.New("already_finalized")
	ErrCannotForwardFurther = errors.New("cannot_forward_further")
	ErrStudentNotFound      = errors.New("student_not_found")
	ErrNotApproved          = errors.New("not_approved")
	ErrInvalidRequest       = errors.New("invalid_request")
)

var kinds = []error{
	ErrInvalidWindow,
	ErrAlreadyPending,
	ErrNotInCampus,
	ErrRequestNotFound,
	ErrUnauthorized,
	ErrAlreadyFinalized,
	ErrCannotForwardFurther,
	ErrStudentNotFound,
	ErrNotApproved,
	ErrInvalidRequest,
}

// Error is an expected, recoverable outcome with a human readable message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the stable kind string of err, or "" for infrastructure errors.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}

// MessageOf returns the human readable part of a domain error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// RequestNotFound is returned by stores for unknown request ids.
func RequestNotFound(id string) error {
	return newError(ErrRequestNotFound, "request %s does not exist", id)
}

// StudentNotFound is returned by stores for unknown student ids.
func StudentNotFound(id string) error {
	return newError(ErrStudentNotFound, "student %s does not exist", id)
}

// AlreadyPending is returned when a student already has an open request.
func AlreadyPending(studentID string) error {
	return newError(ErrAlreadyPending, "student %s already has a pending request", studentID)
}
