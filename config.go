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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/go-kivik/couchbulk/log"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultOpenTimeout    = 150 * time.Second
	DefaultReadTimeout    = 150 * time.Second
	DefaultFlushSizeMB    = 10
	DefaultMaxArrayLength = 250
)

const bytesPerMB = 1024 * 1024

// Config configures a [Client]. It is copied by [New], and may not be
// changed afterwards.
type Config struct {
	// URL is the server root, for example https://db.example.com:6984/.
	// Credentials embedded in the URL are used when Username is empty.
	URL string `validate:"required,url"`

	// Username and Password are sent with every request, using HTTP Basic
	// Authentication.
	Username string
	Password string

	// OpenTimeout limits connection establishment, including the TLS
	// handshake. Zero selects DefaultOpenTimeout. A negative value disables
	// the limit.
	OpenTimeout time.Duration

	// ReadTimeout limits how long the server may be silent, while waiting for
	// a response, or between reads of a response body. Zero selects
	// DefaultReadTimeout. A negative value disables the limit.
	ReadTimeout time.Duration

	// FailSilent causes raw requests and bulk writes to return non-2xx
	// responses to the caller, instead of an error.
	FailSilent bool

	// FlushSizeMB is the default size, in MiB, above which a bulk batch is
	// flushed. Zero selects DefaultFlushSizeMB.
	FlushSizeMB float64 `validate:"gt=0"`

	// MaxArrayLength is the default number of documents at which a bulk
	// batch is flushed. Zero selects DefaultMaxArrayLength.
	MaxArrayLength int `validate:"gt=0"`

	// UserAgent is appended to the User-Agent header.
	UserAgent string

	// CompressRequests enables gzip compression of request bodies.
	CompressRequests bool

	// HTTPClient, if set, is used as the basis for all requests. It is not
	// modified. OpenTimeout only applies if its Transport is nil.
	HTTPClient *http.Client `validate:"-"`

	// Logger receives warnings, such as per-document bulk failures. Defaults
	// to log.New().
	Logger log.Logger `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) withDefaults() Config {
	if c.OpenTimeout == 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.FlushSizeMB == 0 {
		c.FlushSizeMB = DefaultFlushSizeMB
	}
	if c.MaxArrayLength == 0 {
		c.MaxArrayLength = DefaultMaxArrayLength
	}
	if c.Logger == nil {
		c.Logger = log.New()
	}
	return c
}

func (c Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Status: http.StatusBadRequest, Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
	}
	return badRequest("couchbulk: invalid config: " + strings.Join(msgs, ", "))
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// flushBytes converts a size in MiB to bytes.
func flushBytes(mb float64) int64 {
	return int64(mb * bytesPerMB)
}
