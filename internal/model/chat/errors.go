package chat

import "errors"

// Error kinds. Every error produced by the stores and the coordinator wraps
// exactly one of them.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInternal        = errors.New("internal error")
)

var (
	ErrUsernameEmpty    = newError(ErrValidation, "username cannot be empty")
	ErrUsernameTooLong  = newError(ErrValidation, "username exceeds maximum length")
	ErrUsernameInvalid  = newError(ErrValidation, "username contains invalid characters")
	ErrMessageEmpty     = newError(ErrValidation, "message content cannot be empty")
	ErrMessageTooLong   = newError(ErrValidation, "message exceeds maximum length")
	ErrMessageInvalid   = newError(ErrValidation, "message contains invalid characters")
	ErrAlreadyJoined    = newError(ErrValidation, "already joined")
	ErrUsernameTaken    = newError(ErrConflict, "Username already taken")
	ErrNotAuthenticated = newError(ErrUnauthenticated, "Not authenticated")
	ErrUserNotFound     = newError(ErrInternal, "user not found")
)

type kindError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// IsUserError reports whether err can be shown to the user verbatim.
func IsUserError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrUnauthenticated)
}
