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
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/go-kivik/couchbulk/chttp"
	"github.com/go-kivik/couchbulk/log"
)

// Response is a fully read HTTP response, as returned by the raw request
// methods.
type Response = chttp.Response

// Client is a handle to a CouchDB server. It is safe for concurrent use.
type Client struct {
	conf Config
	http *chttp.Client
	log  log.Logger
}

// New validates cfg, applies defaults, and returns a new Client. No request
// is made.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hc, err := chttp.New(cfg.HTTPClient, cfg.URL, chttp.Config{
		Username:    cfg.Username,
		Password:    cfg.Password,
		OpenTimeout: positive(cfg.OpenTimeout),
		ReadTimeout: positive(cfg.ReadTimeout),
		FailSilent:  cfg.FailSilent,
		Compress:    cfg.CompressRequests,
		UserAgent:   cfg.UserAgent,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		conf: cfg,
		http: hc,
		log:  cfg.Logger,
	}, nil
}

// Config returns a copy of the effective configuration, with defaults
// applied.
func (c *Client) Config() Config {
	return c.conf
}

// DB returns a handle to the named database. No request is made.
func (c *Client) DB(name string) *DB {
	return &DB{
		client: c,
		name:   name,
	}
}

// Get performs a GET request against path, which is relative to the server
// root and may include a query string.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.http.Fetch(ctx, http.MethodGet, path, nil)
}

// Head performs a HEAD request against path.
func (c *Client) Head(ctx context.Context, path string) (*Response, error) {
	return c.http.Fetch(ctx, http.MethodHead, path, nil)
}

// Delete performs a DELETE request against path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.http.Fetch(ctx, http.MethodDelete, path, nil)
}

// Put performs a PUT request against path. body is JSON encoded, unless it is
// a []byte, string, json.RawMessage or io.Reader, which are sent as-is. A nil
// body sends no body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.http.Fetch(ctx, http.MethodPut, path, bodyOptions(body))
}

// Post performs a POST request against path. body is handled as for Put.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.http.Fetch(ctx, http.MethodPost, path, bodyOptions(body))
}

func bodyOptions(body interface{}) *chttp.Options {
	switch t := body.(type) {
	case nil:
		return nil
	case io.ReadCloser:
		return &chttp.Options{Body: t}
	case io.Reader:
		return &chttp.Options{Body: io.NopCloser(t)}
	}
	return &chttp.Options{GetBody: chttp.BodyEncoder(body)}
}

// CreateDB creates the named database.
func (c *Client) CreateDB(ctx context.Context, name string) error {
	if name == "" {
		return missingArg("name")
	}
	_, err := c.http.FetchStrict(ctx, http.MethodPut, url.PathEscape(name), nil)
	return err
}

// DestroyDB deletes the named database.
func (c *Client) DestroyDB(ctx context.Context, name string) error {
	if name == "" {
		return missingArg("name")
	}
	_, err := c.http.FetchStrict(ctx, http.MethodDelete, url.PathEscape(name), nil)
	return err
}
