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

package relax

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// recorder is a transport which records requests, and answers each with a
// fixed response.
type recorder struct {
	status int
	body   string
	header http.Header

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

var _ http.RoundTripper = (*recorder)(nil)

func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{"Content-Type": {"application/json"}}
	for k, v := range r.header {
		header[k] = v
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// last returns the most recent request and its body.
func (r *recorder) last(t *testing.T) (*http.Request, []byte) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		t.Fatal("no request was sent")
	}
	i := len(r.requests) - 1
	return r.requests[i], r.bodies[i]
}

// newRecordedClient returns a non-blocking client for database "db" whose
// requests are answered by rec. Request compression is disabled, so bodies
// can be inspected.
func newRecordedClient(t *testing.T, rec *recorder, opts ...Option) *AsyncClient {
	t.Helper()
	opts = append([]Option{
		WithHTTPClient(&http.Client{Transport: rec}),
		WithGzip(false),
	}, opts...)
	c, err := NewAsync("http://example.com/", "db", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// blockingTransport holds every request until its context ends, or release
// is closed.
type blockingTransport struct {
	started chan string
	release chan struct{}
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b.started <- req.URL.EscapedPath()
	select {
	case <-req.Context().Done():
		return nil, req.Context().Err()
	case <-b.release:
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
		Request:    req,
	}, nil
}

// decodeBody decodes a JSON request body for comparison. An empty body
// decodes to nil.
func decodeBody(t *testing.T, body []byte) interface{} {
	t.Helper()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("request body is not JSON: %s", err)
	}
	return v
}
