// Package weberr decorates errors with the HTTP response they should
// produce and the log fields that describe them.
package weberr

import (
	"errors"
	"net/http"
)

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

// Response returns the outermost response attached to err.
func Response(err error) (body interface{}, status int, ok bool) {
	var re *responseError
	if errors.As(err, &re) {
		return re.body, re.status, true
	}
	return nil, 0, false
}

// Status is the response status of err, 500 when none is attached.
func Status(err error) int {
	if _, status, ok := Response(err); ok {
		return status
	}
	return http.StatusInternalServerError
}

// Fields merges the log fields of every layer of err. Outer layers win.
func Fields(err error) (map[string]interface{}, bool) {
	var out map[string]interface{}
	for err != nil {
		if fe, ok := err.(*fieldsError); ok {
			if out == nil {
				out = make(map[string]interface{})
			}
			for k, v := range fe.fields {
				if _, set := out[k]; !set {
					out[k] = v
				}
			}
		}
		err = errors.Unwrap(err)
	}
	return out, out != nil
}

type responseError struct {
	error
	body   interface{}
	status int
}

func (e *responseError) Unwrap() error { return e.error }

type fieldsError struct {
	error
	fields map[string]interface{}
}

func (e *fieldsError) Unwrap() error { return e.error }
