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

// Package chttp provides a minimal HTTP transport for communicating with
// CouchDB servers.
package chttp

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/go-kivik/couchbulk/log"
)

const typeJSON = "application/json"

// The default UserAgent values
const (
	UserAgent = "couchbulk chttp"
	Version   = "1.0.0"
)

// Client represents a client connection. It embeds an *http.Client
type Client struct {
	// UserAgents is appended to set the User-Agent header. Typically it should
	// contain pairs of product name and version.
	UserAgents []string

	*http.Client

	dsn      *url.URL
	basePath string
	gzip     bool
	conf     Config
	log      log.Logger
}

// New returns a connection to a remote CouchDB server. client is copied, so
// that the caller's value is never modified. If client is nil, or has no
// transport, a transport honoring cfg.OpenTimeout is created.
func New(client *http.Client, dsn string, cfg Config) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	user := dsnURL.User
	dsnURL.User = nil
	if cfg.Username == "" && user != nil {
		cfg.Username = user.Username()
		cfg.Password, _ = user.Password()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNil()
	}

	hc := &http.Client{}
	if client != nil {
		*hc = *client
	}
	if hc.Transport == nil {
		hc.Transport = newTransport(cfg.OpenTimeout)
	}
	if cfg.ReadTimeout > 0 {
		hc.Transport = &readTimeout{timeout: cfg.ReadTimeout, transport: hc.Transport}
	}
	hc.Transport = instrument(hc.Transport)
	if cfg.Username != "" {
		(&basicAuth{Username: cfg.Username, Password: cfg.Password}).wrap(hc)
	}

	c := &Client{
		Client:   hc,
		dsn:      dsnURL,
		basePath: strings.TrimSuffix(dsnURL.Path, "/"),
		gzip:     cfg.Compress,
		conf:     cfg,
		log:      cfg.Logger,
	}
	if cfg.UserAgent != "" {
		c.UserAgents = append(c.UserAgents, cfg.UserAgent)
	}
	return c, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, &Error{
			Status:  http.StatusBadRequest,
			Message: "no URL specified",
		}
	}
	if !strings.HasPrefix(dsn, "http://") && !strings.HasPrefix(dsn, "https://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fullError(http.StatusBadRequest, err)
	}
	if dsnURL.Path == "" {
		dsnURL.Path = "/"
	}
	return dsnURL, nil
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK returns true for a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300 // nolint:gomnd
}

// Decode unmarshals the response body into i.
func (r *Response) Decode(i interface{}) error {
	if err := json.Unmarshal(r.Body, i); err != nil {
		return &Error{Status: http.StatusBadGateway, Err: err}
	}
	return nil
}

// DecodeJSON unmarshals the response body into i. This method consumes and
// closes the response body.
func DecodeJSON(r *http.Response, i interface{}) error {
	defer CloseBody(r.Body)
	if err := json.NewDecoder(r.Body).Decode(i); err != nil {
		return &Error{Status: http.StatusBadGateway, Err: err}
	}
	return nil
}

// CloseBody drains and closes body.
func CloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// DoJSON combines [Client.DoReq], [ResponseError], and [DecodeJSON], and
// closes the response body. Non-2xx responses are always returned as an
// error, regardless of the fail-silent setting.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts *Options, i interface{}) error {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if res.Body != nil {
		defer CloseBody(res.Body)
	}
	if err = ResponseError(res); err != nil {
		return err
	}
	return DecodeJSON(res, i)
}

// Fetch performs the request, and reads the full response body. A non-2xx
// response results in an *HTTPError, unless the client is in fail-silent
// mode, in which case the response is returned with a nil error.
func (c *Client) Fetch(ctx context.Context, method, path string, opts *Options) (*Response, error) {
	return c.fetch(ctx, method, path, opts, c.conf.FailSilent)
}

// FetchStrict is like [Client.Fetch], but non-2xx responses always result in
// an *HTTPError.
func (c *Client) FetchStrict(ctx context.Context, method, path string, opts *Options) (*Response, error) {
	return c.fetch(ctx, method, path, opts, false)
}

func (c *Client) fetch(ctx context.Context, method, path string, opts *Options, silent bool) (*Response, error) {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	defer CloseBody(res.Body)
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, netError(err)
	}
	resp := &Response{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   body,
	}
	if resp.OK() || silent {
		return resp, nil
	}
	return resp, newHTTPError(res, body)
}

func (c *Client) path(path string) string {
	if c.basePath != "" {
		return c.basePath + "/" + strings.TrimPrefix(path, "/")
	}
	return "/" + strings.TrimPrefix(path, "/")
}

// NewRequest returns a new *http.Request to the CouchDB server, and the
// specified path. The host, schema, etc, of the specified path are ignored.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader, opts *Options) (*http.Request, error) {
	fullPath := c.path(path)
	reqPath, err := url.Parse(fullPath)
	if err != nil {
		return nil, fullError(http.StatusBadRequest, err)
	}
	u := *c.dsn // Make a copy
	u.Path = reqPath.Path
	u.RawPath = reqPath.RawPath
	u.RawQuery = reqPath.RawQuery
	compress, body := c.compressBody(body, opts)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Err: err}
	}
	if compress {
		req.Header.Add("Content-Encoding", "gzip")
	}
	req.Header.Add("User-Agent", c.userAgent())
	return req, nil
}

// compressBody compresses body with gzip compression if appropriate. It will
// return true, and the compressed stream, or false, and the unaltered stream.
func (c *Client) compressBody(body io.Reader, opts *Options) (bool, io.Reader) {
	if !c.gzip || body == nil || (opts != nil && opts.NoGzip) {
		return false, body
	}
	r, w := io.Pipe()
	go func() {
		if closer, ok := body.(io.Closer); ok {
			defer closer.Close()
		}
		gz := gzip.NewWriter(w)
		_, err := io.Copy(gz, body)
		gz.Close()
		w.CloseWithError(err)
	}()
	return true, r
}

// DoReq does an HTTP request. An error is returned only if there was an error
// processing the request. In particular, an error status code, such as 400
// or 500, does _not_ cause an error to be returned.
func (c *Client) DoReq(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	if method == "" {
		return nil, errors.New("chttp: method required")
	}
	var body io.Reader
	if opts != nil {
		if opts.GetBody != nil {
			var err error
			opts.Body, err = opts.GetBody()
			if err != nil {
				return nil, err
			}
		}
		if opts.Body != nil {
			body = opts.Body
			defer opts.Body.Close() // nolint: errcheck
		}
	}
	req, err := c.NewRequest(ctx, method, path, body, opts)
	if err != nil {
		return nil, err
	}
	fixPath(req, c.path(path))
	setHeaders(req, opts)
	setQuery(req, opts)
	if opts != nil {
		req.GetBody = opts.GetBody
	}

	c.log.Debugf("%s %s", req.Method, req.URL.RequestURI())
	response, err := c.Do(req)
	if err != nil {
		return nil, c.netError(err)
	}
	c.log.Debugf("%s %s: %s", req.Method, req.URL.RequestURI(), response.Status)
	return response, nil
}

func (c *Client) netError(err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return te
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: opConnect, Limit: c.conf.OpenTimeout, Err: err}
	}
	return netError(err)
}

func netError(err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// If this error was generated by EncodeBody, it may have an emedded
		// status code (!= 500), which we should honor.
		status := HTTPStatus(urlErr.Err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		return fullError(status, err)
	}
	if status := HTTPStatus(err); status != http.StatusInternalServerError {
		return err
	}
	return fullError(http.StatusBadGateway, err)
}

// fixPath sets the request's URL.RawPath to work with escaped characters in
// paths.
func fixPath(req *http.Request, path string) {
	// Remove any query parameters
	parts := strings.SplitN(path, "?", 2) // nolint:gomnd
	req.URL.RawPath = "/" + strings.TrimPrefix(parts[0], "/")
}

// BodyEncoder returns a function which returns the encoded body. It is meant
// to be used as a http.Request.GetBody value.
func BodyEncoder(i interface{}) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return EncodeBody(i), nil
	}
}

// EncodeBody JSON encodes i to an io.ReadCloser. If an encoding error
// occurs, it will be returned on the next read.
func EncodeBody(i interface{}) io.ReadCloser {
	done := make(chan struct{})
	r, w := io.Pipe()
	go func() {
		defer close(done)
		var err error
		switch t := i.(type) {
		case []byte:
			_, err = w.Write(t)
		case json.RawMessage:
			_, err = w.Write(t)
		case string:
			_, err = w.Write([]byte(t))
		default:
			err = json.NewEncoder(w).Encode(i)
			switch err.(type) {
			case *json.MarshalerError, *json.UnsupportedTypeError, *json.UnsupportedValueError:
				err = &Error{Status: http.StatusBadRequest, Err: err}
			}
		}
		_ = w.CloseWithError(err)
	}()
	return &ebReader{
		ReadCloser: r,
		done:       done,
	}
}

type ebReader struct {
	io.ReadCloser
	done <-chan struct{}
}

var _ io.ReadCloser = &ebReader{}

func (r *ebReader) Close() error {
	err := r.ReadCloser.Close()
	<-r.done
	return err
}

func setHeaders(req *http.Request, opts *Options) {
	accept := typeJSON
	contentType := typeJSON
	if opts != nil {
		if opts.Accept != "" {
			accept = opts.Accept
		}
		if opts.ContentType != "" {
			contentType = opts.ContentType
		}
		for k, v := range opts.Header {
			if _, ok := req.Header[k]; !ok {
				req.Header[k] = v
			}
		}
	}
	req.Header.Add("Accept", accept)
	req.Header.Add("Content-Type", contentType)
}

func setQuery(req *http.Request, opts *Options) {
	if opts == nil || len(opts.Query) == 0 {
		return
	}
	if req.URL.RawQuery == "" {
		req.URL.RawQuery = opts.Query.Encode()
		return
	}
	req.URL.RawQuery = strings.Join([]string{req.URL.RawQuery, opts.Query.Encode()}, "&")
}

// ETag returns the unquoted ETag value, and a bool indicating whether it was
// found.
func ETag(header http.Header) (string, bool) {
	etag, ok := header["Etag"]
	if !ok {
		etag, ok = header["ETag"] // nolint: staticcheck
	}
	if !ok || len(etag) == 0 {
		return "", false
	}
	return strings.Trim(etag[0], `"`), true
}

func (c *Client) userAgent() string {
	ua := fmt.Sprintf("%s/%s (Language=%s; Platform=%s/%s)",
		UserAgent, Version, runtime.Version(), runtime.GOARCH, runtime.GOOS)
	return strings.Join(append([]string{ua}, c.UserAgents...), " ")
}
