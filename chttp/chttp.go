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

// Package chttp provides the HTTP request pipeline used to talk to CouchDB
// servers: request building, response interpretation and error
// classification.
package chttp

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"
)

const typeJSON = "application/json"

// The default UserAgent values
const (
	UserAgent = "relax"
	Version   = "0.3.0"
)

// Client represents a client connection. It embeds an *http.Client
type Client struct {
	// UserAgents is appended to set the User-Agent header. Typically it should
	// contain pairs of product name and version.
	UserAgents []string

	*http.Client

	rawDSN   string
	dsn      *url.URL
	basePath string
	auth     authenticator
	authMU   sync.Mutex
	logger   *slog.Logger
	throttle *throttleOption

	// noGzip disables request body compression.
	noGzip bool
}

// New returns a connection to a remote CouchDB server. client is copied, so
// authentication and throttling never alter the caller's *http.Client. If
// credentials are included in the URL, requests will be authenticated using
// Cookie Auth, unless another auth option is passed.
func New(client *http.Client, dsn string, opts ...Option) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	hc := *client
	user := dsnURL.User
	dsnURL.User = nil
	c := &Client{
		Client:   &hc,
		dsn:      dsnURL,
		basePath: strings.TrimSuffix(dsnURL.Path, "/"),
		rawDSN:   dsnURL.String(),
	}
	c.UserAgents = []string{}
	var auth authenticator
	for _, opt := range opts {
		opt.Apply(c)
		opt.Apply(&auth)
	}
	if auth == nil && user != nil {
		password, _ := user.Password()
		auth = &cookieAuth{
			Username: user.Username(),
			Password: password,
		}
	}
	if c.throttle != nil {
		if err := c.throttle.wrap(c); err != nil {
			return nil, err
		}
	}
	if auth != nil {
		if err := c.setAuth(auth); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, MissingData("no URL specified")
	}
	if !strings.HasPrefix(dsn, "http://") && !strings.HasPrefix(dsn, "https://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	}
	if !strings.HasSuffix(dsnURL.Path, "/") {
		dsnURL.Path += "/"
	}
	return dsnURL, nil
}

// DSN returns the normalized base URL, always ending in "/", without
// credentials.
func (c *Client) DSN() string {
	return c.rawDSN
}

func (c *Client) setAuth(a authenticator) error {
	if c.auth != nil {
		return errors.New("auth already set")
	}
	if err := a.Authenticate(c); err != nil {
		return err
	}
	c.auth = a
	return nil
}

func (c *Client) path(path string) string {
	if c.basePath != "" {
		return c.basePath + "/" + strings.TrimPrefix(path, "/")
	}
	return "/" + strings.TrimPrefix(path, "/")
}

// fullPathMatches returns true if the target resolves to match path.
func (c *Client) fullPathMatches(path, target string) bool {
	p, err := url.Parse(path)
	if err != nil {
		return false
	}
	p.RawQuery = ""
	t := new(url.URL)
	*t = *c.dsn // shallow copy
	t.Path = c.path(target)
	t.RawQuery = ""
	return t.String() == p.String()
}

// NewRequest returns a new *http.Request to the CouchDB server, and the
// specified path. The host, schema, etc, of the specified path are ignored.
func (c *Client) NewRequest(ctx context.Context, method, path string, body []byte, opts *Options) (*http.Request, error) {
	fullPath := c.path(path)
	reqPath, err := url.Parse(fullPath)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	}
	u := *c.dsn // Make a copy
	u.Path = reqPath.Path
	u.RawPath = ""
	u.RawQuery = reqPath.RawQuery
	compress, body, err := c.compressBody(u.String(), body, opts)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	}
	if body != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	if compress {
		req.Header.Add("Content-Encoding", "gzip")
	}
	req.Header.Add("User-Agent", c.userAgent())
	return req, nil
}

func (c *Client) shouldCompressBody(path string, body []byte, opts *Options) bool {
	if c.noGzip || (opts != nil && opts.NoGzip) {
		return false
	}
	// /_session only supports compression from CouchDB 3.2.
	if c.fullPathMatches(path, "/_session") {
		return false
	}
	return len(body) > 0
}

// compressBody compresses body with gzip compression if appropriate. It
// returns true and the compressed payload, or false and the unaltered one.
func (c *Client) compressBody(path string, body []byte, opts *Options) (bool, []byte, error) {
	if !c.shouldCompressBody(path, body, opts) {
		return false, body, nil
	}
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(body); err != nil {
		return false, nil, err
	}
	if err := gz.Close(); err != nil {
		return false, nil, err
	}
	return true, buf.Bytes(), nil
}

// requestBody resolves the payload described by opts. A JSON value that
// cannot be encoded fails here, before any network activity.
func requestBody(opts *Options) ([]byte, error) {
	if opts == nil {
		return nil, nil
	}
	if opts.JSON != nil {
		if opts.Body != nil {
			return nil, MissingData("both Body and JSON set")
		}
		return EncodeJSON(opts.JSON)
	}
	return opts.Body, nil
}

// DoReq does an HTTP request. An error is returned only if there was an error
// processing the request. In particular, an error status code, such as 400
// or 500, does _not_ cause an error to be returned. Transport failures are
// returned exactly as the transport reported them, except a failed cookie
// login, which is returned as the classified [*Error] of /_session.
func (c *Client) DoReq(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	if method == "" {
		return nil, errors.New("chttp: method required")
	}
	body, err := requestBody(opts)
	if err != nil {
		return nil, err
	}
	req, err := c.NewRequest(ctx, method, path, body, opts)
	if err != nil {
		return nil, err
	}
	fixPath(req, c.path(path))
	setHeaders(req, opts)
	setQuery(req, opts)

	trace := ContextClientTrace(ctx)
	if trace != nil {
		trace.httpRequest(req)
		trace.httpRequestBody(req)
	}

	start := time.Now()
	response, err := c.Do(req)
	if err != nil {
		err = sessionFailure(err)
	}
	c.logExchange(ctx, req, response, err, time.Since(start))
	if trace != nil && response != nil {
		trace.httpResponse(response)
		trace.httpResponseBody(response)
	}
	return response, err
}

func (c *Client) logExchange(ctx context.Context, req *http.Request, res *http.Response, err error, elapsed time.Duration) {
	if c.logger == nil {
		return
	}
	attrs := []any{
		slog.String("method", req.Method),
		slog.String("path", req.URL.EscapedPath()),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		c.logger.DebugContext(ctx, "couchdb request failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	c.logger.DebugContext(ctx, "couchdb request", append(attrs, slog.Int("status", res.StatusCode))...)
}

// fixPath sets the request's URL.RawPath to work with escaped characters in
// paths.
func fixPath(req *http.Request, path string) {
	// Remove any query parameters
	parts := strings.SplitN(path, "?", 2) // nolint:gomnd
	req.URL.RawPath = "/" + strings.TrimPrefix(parts[0], "/")
}

func setHeaders(req *http.Request, opts *Options) {
	accept := typeJSON
	contentType := typeJSON
	if opts != nil {
		if opts.Accept != "" {
			accept = opts.Accept
		}
		if opts.ContentType != "" && opts.JSON == nil {
			contentType = opts.ContentType
		}
		for k, v := range opts.Header {
			if _, ok := req.Header[k]; !ok {
				req.Header[k] = v
			}
		}
	}
	req.Header.Set("Accept", accept)
	if req.Body != nil {
		req.Header.Set("Content-Type", contentType)
	}
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

// DoJSON combines [Client.DoReq] and [Interpret], and closes the response
// body. On success the body is unmarshaled into target, unless target is nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts *Options, target interface{}) error {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return err
	}
	defer CloseBody(res.Body)
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return &Error{Kind: KindCouch, Status: http.StatusBadGateway, Reason: err.Error(), Err: err}
	}
	if _, err := Interpret(res.StatusCode, body); err != nil {
		return err
	}
	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &Error{Kind: KindCouch, Status: http.StatusBadGateway, Reason: err.Error(), Body: body, Err: err}
	}
	return nil
}

// DoRaw performs a request whose response body is passed through without JSON
// interpretation, as done when the caller overrides Accept. Error statuses are
// still classified, with the reason read from the body when it is JSON.
func (c *Client) DoRaw(ctx context.Context, method, path string, opts *Options) ([]byte, error) {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	defer CloseBody(res.Body)
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Kind: KindCouch, Status: http.StatusBadGateway, Reason: err.Error(), Err: err}
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		return nil, Classify(res.StatusCode, reasonOf(body), body)
	}
	return body, nil
}

// DoHead issues a HEAD request and returns only the status code. The body is
// never read.
func (c *Client) DoHead(ctx context.Context, path string, opts *Options) (int, error) {
	res, err := c.DoReq(ctx, http.MethodHead, path, opts)
	if err != nil {
		return 0, err
	}
	CloseBody(res.Body)
	return res.StatusCode, nil
}

// CloseBody closes body, discarding any error. A nil body is ignored.
func CloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

func (c *Client) userAgent() string {
	ua := fmt.Sprintf("%s/%s (Language=%s; Platform=%s/%s)",
		UserAgent, Version, runtime.Version(), runtime.GOARCH, runtime.GOOS)
	return strings.Join(append([]string{ua}, c.UserAgents...), " ")
}
