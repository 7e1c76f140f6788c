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

package couchbulk

import (
	"net/http"

	"github.com/go-kivik/couchbulk/chttp"
)

// Error represents an error raised by the client, rather than the server. Its
// HTTPStatus method returns the status code which best describes the problem.
type Error = chttp.Error

// HTTPError is returned for any non-2xx response from the server, unless the
// client is configured to fail silently.
type HTTPError = chttp.HTTPError

// TimeoutError is returned when a connection could not be opened within
// [Config.OpenTimeout], or when the server was silent for longer than
// [Config.ReadTimeout].
type TimeoutError = chttp.TimeoutError

// HTTPStatus returns the HTTP status code embedded in the error, or 500 if
// there is no embedded status code. A nil error yields 0.
func HTTPStatus(err error) int {
	return chttp.HTTPStatus(err)
}

// IsTimeout returns true if err is, or wraps, a [*TimeoutError].
func IsTimeout(err error) bool {
	return chttp.IsTimeout(err)
}

func badRequest(msg string) error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

func missingArg(arg string) error {
	return badRequest("couchbulk: " + arg + " required")
}
