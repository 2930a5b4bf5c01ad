package weberr

import (
	"errors"
	"net/http"
)

// ErrorResponse is the body of every error reply. Fields names the
// offending request fields, by their JSON names.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type RequestError struct {
	Err error
}

func (r *RequestError) Error() string { return r.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

func NewError(err error, msg string, status int, opts ...Opt) error {
	e := &RequestError{Err: err}
	opts = append(opts, WithResponse(
		&ErrorResponse{Error: msg},
		status,
	))

	return Wrap(e, opts...)
}

// Invalid reports a request that failed validation.
func Invalid(fields map[string]string, opts ...Opt) error {
	e := &RequestError{Err: errors.New("request validation failed")}
	opts = append(opts, WithResponse(
		&ErrorResponse{Error: "the request is invalid", Fields: fields},
		http.StatusUnprocessableEntity,
	))

	return Wrap(e, opts...)
}

func NotFound(err error, opts ...Opt) error {
	return NewError(
		err,
		"the resource could not be found",
		http.StatusNotFound,
		opts...,
	)
}

func Conflict(err error, opts ...Opt) error {
	return NewError(
		err,
		"the resource is in a conflicting state",
		http.StatusConflict,
		opts...,
	)
}

func TooManyRequests(err error, opts ...Opt) error {
	return NewError(
		err,
		"rate limit exceeded",
		http.StatusTooManyRequests,
		opts...,
	)
}

func BadGateway(err error, opts ...Opt) error {
	return NewError(
		err,
		"the progress store could not be reached",
		http.StatusBadGateway,
		opts...,
	)
}

func Unavailable(err error, opts ...Opt) error {
	return NewError(
		err,
		"the service is unavailable",
		http.StatusServiceUnavailable,
		opts...,
	)
}

func InternalError(err error, opts ...Opt) error {
	return NewError(
		err,
		"the server encountered a problem and could not process your request",
		http.StatusInternalServerError,
		opts...,
	)
}

func BadRequest(err error, opts ...Opt) error {
	return NewError(
		err,
		err.Error(),
		http.StatusBadRequest,
		opts...,
	)
}
