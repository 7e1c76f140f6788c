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
	"strings"
	"testing"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (c customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return c(req)
}

func newCustomClient(t *testing.T, dsn string, cfg Config, fn func(*http.Request) (*http.Response, error)) *Client {
	t.Helper()
	if dsn == "" {
		dsn = "http://example.com/"
	}
	c, err := New(&http.Client{Transport: customTransport(fn)}, dsn, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func Body(str string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(str))
}

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Request:    req,
		StatusCode: status,
		Header:     http.Header{"Content-Type": {typeJSON}},
		Body:       Body(body),
	}
}
