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

package chttp

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Error represents an error raised by the client itself, as opposed to one
// returned by the server. It carries the HTTP status which best describes the
// failure.
type Error struct {
	// Status is the HTTP status code associated with this error. Defaults to
	// 500 if unset.
	Status int

	// Message is the error message.
	Message string

	// Err is the originating error, if any.
	Err error
}

var _ error = &Error{}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

// HTTPStatus returns the HTTP status code associated with the error, or 500
// if none.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Unwrap satisfies the errors wrapper interface.
func (e *Error) Unwrap() error {
	return e.Err
}

func fullError(status int, err error) error {
	return &Error{Status: status, Err: err}
}

// HTTPStatus returns the HTTP status code embedded in the error, or 500 if
// there is no embedded status code. A nil error yields 0.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder interface {
		HTTPStatus() int
	}
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	// Method and Path identify the failed request.
	Method string
	Path   string

	// Status is the response status code.
	Status int

	// Body is the raw response body, if any.
	Body []byte

	// Reason is the server-supplied error reason.
	Reason string
}

func (e *HTTPError) Error() string {
	msg := http.StatusText(e.Status)
	if e.Reason != "" {
		if msg == "" {
			msg = e.Reason
		} else {
			msg = fmt.Sprintf("%s: %s", msg, e.Reason)
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("status %d", e.Status)
	}
	if e.Method == "" {
		return msg
	}
	return fmt.Sprintf("%s (%s %s)", msg, e.Method, e.Path)
}

// HTTPStatus returns the HTTP status code of the failed response.
func (e *HTTPError) HTTPStatus() int {
	return e.Status
}

// ResponseError returns an *HTTPError if the response status is anything but
// 2xx. The response body is consumed and closed in that case.
func ResponseError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 { // nolint:gomnd
		return nil
	}
	var body []byte
	if resp.Body != nil {
		defer CloseBody(resp.Body)
		body, _ = io.ReadAll(resp.Body)
	}
	return newHTTPError(resp, body)
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	httpErr := &HTTPError{
		Status: resp.StatusCode,
		Body:   body,
	}
	if req := resp.Request; req != nil {
		httpErr.Method = req.Method
		httpErr.Path = req.URL.RequestURI()
	}
	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == typeJSON && len(body) > 0 {
		httpErr.Reason = gjson.GetBytes(body, "reason").String()
	}
	return httpErr
}

// TimeoutError is returned when the connection could not be opened within the
// open timeout, or when the server stopped sending data for longer than the
// read timeout.
type TimeoutError struct {
	// Op is "connect" or "read".
	Op string
	// Limit is the timeout which was exceeded.
	Limit time.Duration
	Err   error
}

var _ interface {
	error
	Timeout() bool
} = &TimeoutError{}

const (
	opConnect = "connect"
	opRead    = "read"
)

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timeout after %s", e.Op, e.Limit)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Timeout always returns true. It satisfies [net.Error].
func (e *TimeoutError) Timeout() bool { return true }

// Temporary returns true. It satisfies [net.Error].
func (e *TimeoutError) Temporary() bool { return true }

// HTTPStatus returns 504 Gateway Timeout.
func (e *TimeoutError) HTTPStatus() int { return http.StatusGatewayTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
