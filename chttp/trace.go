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
	"bytes"
	"context"
	"io"
	"net/http"
)

// ClientTrace is a set of hooks to run at various stages of an outgoing
// HTTP request. Any particular hook may be nil.
type ClientTrace struct {
	// HTTPResponse returns a clone of the *http.Response received from the
	// server, with the body set to nil. If you need the body, use the more
	// expensive HTTPResponseBody.
	HTTPResponse func(*http.Response)

	// HTTPResponseBody returns a clone of the *http.Response received from
	// the server, with the body cloned. This can be useful for debugging, but
	// adds the overhead of buffering the whole body.
	HTTPResponseBody func(*http.Response)

	// HTTPRequest returns a clone of the *http.Request sent to the server,
	// with the body set to nil.
	HTTPRequest func(*http.Request)

	// HTTPRequestBody returns a clone of the *http.Request sent to the
	// server, with the body cloned, if it is set.
	HTTPRequestBody func(*http.Request)
}

type traceKey struct{}

// WithClientTrace returns a new context based on the provided parent ctx.
// HTTP client requests made with the returned context will use the provided
// trace hooks, replacing any trace already registered with ctx.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// ContextClientTrace returns the ClientTrace associated with the
// provided context. If none, it returns nil.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, _ := ctx.Value(traceKey{}).(*ClientTrace)
	return trace
}

func (t *ClientTrace) httpResponse(r *http.Response) {
	if t.HTTPResponse == nil || r == nil {
		return
	}
	clone := new(http.Response)
	*clone = *r
	clone.Body = nil
	t.HTTPResponse(clone)
}

func (t *ClientTrace) httpResponseBody(r *http.Response) {
	if t.HTTPResponseBody == nil || r == nil {
		return
	}
	clone := new(http.Response)
	*clone = *r
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = &replayReadCloser{Reader: bytes.NewReader(body), err: err}
		clone.Body = io.NopCloser(bytes.NewReader(body))
	}
	t.HTTPResponseBody(clone)
}

func (t *ClientTrace) httpRequest(r *http.Request) {
	if t.HTTPRequest == nil {
		return
	}
	clone := r.Clone(r.Context())
	clone.Body = nil
	t.HTTPRequest(clone)
}

func (t *ClientTrace) httpRequestBody(r *http.Request) {
	if t.HTTPRequestBody == nil {
		return
	}
	clone := r.Clone(r.Context())
	if r.Body != nil {
		if r.GetBody != nil {
			clone.Body, _ = r.GetBody()
		} else {
			body, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			r.Body = &replayReadCloser{Reader: bytes.NewReader(body), err: err}
			clone.Body = io.NopCloser(bytes.NewReader(body))
		}
	}
	t.HTTPRequestBody(clone)
}

// replayReadCloser replays a buffered body, then reports the error hit while
// buffering it.
type replayReadCloser struct {
	io.Reader
	err error
}

func (r *replayReadCloser) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err == io.EOF && r.err != nil {
		return n, r.err
	}
	return n, err
}

func (r *replayReadCloser) Close() error { return nil }
