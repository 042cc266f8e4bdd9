package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error by who is at fault and how a client should react.
type Kind int

const (
	BadRequest Kind = iota + 1
	Unauthorized
	Conflict
	Internal
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// StatusCode is the HTTP status that reports an Error of this Kind.
func (k Kind) StatusCode() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public message ids. They are keys into the localization bundle and are the
// only part of an Error that may be shown to a client.
const (
	MsgInvalidJSON        = "invalid_json"
	MsgInvalidCaptcha     = "invalid_captcha"
	MsgInvalidUsername    = "invalid_username"
	MsgInvalidEmail       = "invalid_email"
	MsgPasswordTooShort   = "password_too_short"
	MsgMissingCredentials = "missing_credentials"
	MsgInvalidCredentials = "invalid_credentials"
	MsgAccountExists      = "account_exists"
	MsgMissingToken       = "missing_token"
	MsgInvalidToken       = "invalid_token"
	MsgUnknownUser        = "unknown_user"
	MsgInternal           = "internal_error"
)

var (
	ErrChallengeFailed = errors.New("auth: captcha answer wrong, unknown or expired")
	ErrInvalidInput    = errors.New("auth: input failed validation")
	ErrBadCredentials  = errors.New("auth: no such account or wrong password")
	ErrMissingToken    = errors.New("auth: no bearer token")
	ErrUnknownUser     = errors.New("auth: token subject does not exist")
)

// Error is returned by every Service operation that fails. Message is safe to
// show to clients. Err holds the cause and is only for logs.
type Error struct {
	Err     error
	Kind    Kind
	Message string
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{
		Err:     err,
		Kind:    kind,
		Message: message,
	}
}

func internalError(err error) *Error {
	return newError(Internal, MsgInternal, err)
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s (%s): %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}

	return Internal
}
