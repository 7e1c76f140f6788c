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
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kivik/couchbulk/log"
)

// Config configures a Client.
type Config struct {
	// Username and Password, if Username is set, are sent with every request
	// using HTTP Basic Authentication. Credentials embedded in the DSN are
	// used when Username is empty.
	Username string
	Password string

	// OpenTimeout limits the time spent establishing a connection, including
	// the TLS handshake. Only applies when the Client builds its own
	// transport. Zero means no limit.
	OpenTimeout time.Duration

	// ReadTimeout limits the time spent waiting for the server, between
	// writing the request and receiving headers, and between successive
	// reads of the response body. Zero means no limit.
	ReadTimeout time.Duration

	// FailSilent causes [Client.Fetch] to return non-2xx responses instead of
	// an *HTTPError.
	FailSilent bool

	// Compress enables gzip compression of request bodies.
	Compress bool

	// UserAgent is appended to the User-Agent header.
	UserAgent string

	// Logger receives debug output for every request. Defaults to a nil
	// logger.
	Logger log.Logger
}

// Options are optional parameters which may be sent with a request.
type Options struct {
	// Accept sets the request's Accept header. Defaults to "application/json".
	// To specify any, use "*/*".
	Accept string

	// ContentType sets the requests's Content-Type header. Defaults to "application/json".
	ContentType string

	// Body sets the body of the request.
	Body io.ReadCloser

	// GetBody is a function to set the body, and can be used on retries. If
	// set, Body is ignored.
	GetBody func() (io.ReadCloser, error)

	// Query is appended to the exiting url, if present. If the passed url
	// already contains query parameters, the values in Query are appended.
	// No merging takes place. An empty Query adds nothing, not even '?'.
	Query url.Values

	// Header is a list of default headers to be set on the request.
	Header http.Header

	// NoGzip disables gzip compression on the request body.
	NoGzip bool
}
