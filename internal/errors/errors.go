package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable reason code. Codes are carried verbatim in
// negative acknowledgments on the wire, so they must stay stable.
type Code string

const (
	CodeInvalidArgument   = Code("INVALID_ARGUMENT")
	CodeDuplicateIdentity = Code("DUPLICATE_IDENTITY")
	CodeNoPlayers         = Code("NO_PLAYERS")
	CodeAlreadyStarted    = Code("ALREADY_STARTED")
	CodeAnswerRejected    = Code("ANSWER_REJECTED")
	CodeWrongPhase        = Code("WRONG_PHASE")
	CodeNotFound          = Code("NOT_FOUND")
	CodeInternal          = Code("INTERNAL")
)

var code2http = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeDuplicateIdentity: http.StatusConflict,
	CodeNoPlayers:         http.StatusPreconditionFailed,
	CodeAlreadyStarted:    http.StatusConflict,
	CodeAnswerRejected:    http.StatusConflict,
	CodeWrongPhase:        http.StatusConflict,
	CodeNotFound:          http.StatusNotFound,
	CodeInternal:          http.StatusInternalServerError,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: string(code),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert downcasts any error to *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
