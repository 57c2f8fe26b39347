package appointments

import "errors"

// Kind classifies a request-level failure. Its string form is the stable
// machine-readable code handed to callers.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindProviderNotFound Kind = "PROVIDER_NOT_FOUND"
	KindPastDate         Kind = "PAST_DATE"
	KindSlotTaken        Kind = "SLOT_TAKEN"
	KindNotFound         Kind = "NOT_FOUND"
	KindForbidden        Kind = "FORBIDDEN"
	KindTooLate          Kind = "TOO_LATE"
	KindAlreadyCanceled  Kind = "ALREADY_CANCELED"
)

type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrPastDate)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

func validationError(msg string) error {
	return newError(KindValidation, msg)
}

var (
	ErrValidation       = &Error{Kind: KindValidation, msg: "invalid request"}
	ErrProviderNotFound = &Error{Kind: KindProviderNotFound, msg: "provider not found"}
	ErrPastDate         = &Error{Kind: KindPastDate, msg: "past dates are not permitted"}
	ErrSlotTaken        = &Error{Kind: KindSlotTaken, msg: "appointment date is not available"}
	ErrNotFound         = &Error{Kind: KindNotFound, msg: "appointment not found"}
	ErrForbidden        = &Error{Kind: KindForbidden, msg: "you don't have permission to cancel this appointment"}
	ErrTooLate          = &Error{Kind: KindTooLate, msg: "you can only cancel appointments 2 hours in advance"}
	ErrAlreadyCanceled  = &Error{Kind: KindAlreadyCanceled, msg: "appointment already canceled"}
)

// KindOf returns the kind carried by err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
