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
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// newTransport returns a clone of http.DefaultTransport, with dial and TLS
// handshake limited to openTimeout.
func newTransport(openTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if openTimeout > 0 {
		t.DialContext = (&net.Dialer{
			Timeout:   openTimeout,
			KeepAlive: 30 * time.Second, // nolint:gomnd
		}).DialContext
		t.TLSHandshakeTimeout = openTimeout
	}
	return t
}

// readTimeout aborts a request when the server is silent for longer than
// timeout. The clock starts once a connection is obtained, and is re-armed
// after the request is written and after every successful body read.
type readTimeout struct {
	timeout   time.Duration
	transport http.RoundTripper
}

var _ http.RoundTripper = &readTimeout{}

func (t *readTimeout) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(req.Context())
	timer := time.AfterFunc(t.timeout, func() {
		cancel(&TimeoutError{Op: opRead, Limit: t.timeout})
	})
	timer.Stop()
	arm := func() { timer.Reset(t.timeout) }
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn:      func(httptrace.GotConnInfo) { arm() },
		WroteRequest: func(httptrace.WroteRequestInfo) { arm() },
	})

	resp, err := t.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		timer.Stop()
		if cause := timeoutCause(ctx); cause != nil {
			err = cause
		}
		cancel(nil)
		return nil, err
	}
	arm()
	resp.Body = &timeoutBody{
		ReadCloser: resp.Body,
		ctx:        ctx,
		timer:      timer,
		arm:        arm,
		cancel:     cancel,
	}
	return resp, nil
}

func timeoutCause(ctx context.Context) error {
	var te *TimeoutError
	if errors.As(context.Cause(ctx), &te) {
		return te
	}
	return nil
}

type timeoutBody struct {
	io.ReadCloser
	ctx    context.Context
	timer  *time.Timer
	arm    func()
	cancel context.CancelCauseFunc
	once   sync.Once
}

func (b *timeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		if cause := timeoutCause(b.ctx); cause != nil {
			return n, cause
		}
		return n, err
	}
	if err == nil {
		b.arm()
	} else {
		b.timer.Stop()
	}
	return n, err
}

func (b *timeoutBody) Close() error {
	b.once.Do(func() {
		b.timer.Stop()
		b.cancel(nil)
	})
	return b.ReadCloser.Close()
}
