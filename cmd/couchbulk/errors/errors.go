// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package errors maps couchbulk failures to process exit statuses.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-kivik/couchbulk/chttp"
)

// Exit status codes
//
// See https://man.openbsd.org/sysexits.3
const (
	// ErrUsage indicates an incorrect command, option, or unparseable
	// configuration or command line options.
	ErrUsage = 2
	// ErrUnknown indicates that the server responded with an HTTP status > 500.
	ErrUnknown = 3
	// ErrInternalServerError indicates that the server responded with a 500
	// error.
	ErrInternalServerError = 4

	// ErrBadRequest indicates that the server responded with a 400 error.
	ErrBadRequest = 10
	// ErrUnauthorized indicates that the server responded with a 401 error.
	ErrUnauthorized = 11
	// ErrForbidden indicates that the server responded with a 403 error.
	ErrForbidden = 13
	// ErrNotFound indicates that the server responded with a 404 error.
	ErrNotFound = 14
	// ErrConflict indicates that the server responded with a 409 error.
	ErrConflict = 19
	// ErrPreconditionFailed indicates that the server responded with a 412
	// error.
	ErrPreconditionFailed = 22
	// ErrRequestEntityTooLarge indicates that the server responded with a 413
	// error.
	ErrRequestEntityTooLarge = 23

	// ErrData indicates an input file is invalid, such as malformed JSON or
	// YAML.
	ErrData = 65
	// ErrNoInput indicates that an input file does not exist or cannot be read.
	ErrNoInput = 66
	// ErrUnavailable indicates that the server could not be reached, such as
	// a connection refused.
	ErrUnavailable = 69
	// ErrCantCreate indicates that an output file cannot be created.
	ErrCantCreate = 73
	// ErrIO indicates an I/O error while reading from or writing to a file.
	ErrIO = 74
	// ErrTempFail indicates a temporary failure, such as a timeout. Retrying
	// later may succeed.
	ErrTempFail = 75
	// ErrProtocol indicates a protocol error, such as a server returning a
	// non-JSON response.
	ErrProtocol = 76
)

// exitError attaches an exit status to an error.
type exitError struct {
	error
	status int
}

func (e *exitError) Unwrap() error { return e.error }

// ExitStatus returns the process exit status for the error.
func (e *exitError) ExitStatus() int { return e.status }

// WithCode attaches an exit status to err. A nil err yields nil.
func WithCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &exitError{error: err, status: code}
}

// Code returns a new error with an error code. If err is an existing error, it
// is wrapped with the error code. All other values are passed to fmt.Sprint.
//
// If err is a single nil value, nil is returned.
func Code(code int, err ...interface{}) error {
	if len(err) == 1 {
		switch e := err[0].(type) {
		case nil:
			return nil
		case error:
			return WithCode(e, code)
		}
	}
	return WithCode(errors.New(fmt.Sprint(err...)), code)
}

// Codef wraps the output of fmt.Errorf with a code.
func Codef(code int, format string, args ...interface{}) error {
	return WithCode(fmt.Errorf(format, args...), code)
}

// classifiers are consulted in order. The first to recognize an error
// determines its exit status.
var classifiers = []func(error) int{
	explicitStatus,
	timeoutStatus,
	networkStatus,
	syntaxStatus,
	responseStatus,
}

// InspectErrorCode returns the exit status for err, or 0 if it cannot be
// determined.
func InspectErrorCode(err error) int {
	if err == nil {
		return 0
	}
	for _, classify := range classifiers {
		if code := classify(err); code != 0 {
			return code
		}
	}
	return 0
}

func explicitStatus(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.status
	}
	return 0
}

func timeoutStatus(err error) int {
	if chttp.IsTimeout(err) {
		return ErrTempFail
	}
	return 0
}

func networkStatus(err error) int {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnavailable
	}
	return 0
}

func syntaxStatus(err error) int {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrProtocol
	}
	return 0
}

func responseStatus(err error) int {
	var httpErr interface {
		HTTPStatus() int
	}
	if errors.As(err, &httpErr) {
		return fromHTTPStatus(httpErr.HTTPStatus())
	}
	return 0
}

// serverStatuses maps 5xx responses with a more specific meaning than
// ErrUnknown.
var serverStatuses = map[int]int{
	http.StatusInternalServerError: ErrInternalServerError,
	http.StatusBadGateway:          ErrUnavailable,
	http.StatusServiceUnavailable:  ErrUnavailable,
	http.StatusGatewayTimeout:      ErrTempFail,
}

// fromHTTPStatus maps 4xx statuses onto 10-99, so that 404 exits with 14.
func fromHTTPStatus(status int) int {
	if code, ok := serverStatuses[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return status - 390 // nolint:gomnd
	}
	return ErrUnknown
}
