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

// Package couchtest provides an in-memory server speaking enough of the
// CouchDB HTTP API to test clients against: databases, documents, bulk
// writes, attachments, views, one-shot replication, UUIDs and sessions.
//
// View functions cannot be JavaScript. They are Go functions registered with
// [WithView] and [WithTempView].
package couchtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"gitlab.com/flimzy/httpe"

	"github.com/go-kivik/relax/internal/nettest"
)

// Version is reported by the server's welcome message.
const Version = "3.3.3"

// Server is an in-memory CouchDB. The zero value is not usable; call [New].
type Server struct {
	mux *chi.Mux

	mu        sync.Mutex
	dbs       map[string]*database
	views     map[string]View
	tempViews map[string]View
	users     map[string]string
	token     string
	sessions  map[string]string

	requests atomic.Int64
}

// Option configures a [Server].
type Option func(*Server)

// WithUser adds a user, and turns on authentication for every endpoint but
// the welcome message and /_session.
func WithUser(name, password string) Option {
	return func(s *Server) {
		s.users[name] = password
	}
}

// WithBearerToken accepts token in an "Authorization: Bearer" header, and
// turns on authentication like [WithUser].
func WithBearerToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithView registers the implementation of view in design document ddoc, in
// every database. The design document itself must still be stored for the
// view to be found.
func WithView(ddoc, view string, v View) Option {
	return func(s *Server) {
		s.views[strings.TrimPrefix(ddoc, "_design/")+"/"+view] = v
	}
}

// WithTempView registers the implementation used when mapSource is posted to
// _temp_view.
func WithTempView(mapSource string, v View) Option {
	return func(s *Server) {
		s.tempViews[mapSource] = v
	}
}

// WithDB creates empty databases.
func WithDB(names ...string) Option {
	return func(s *Server) {
		for _, name := range names {
			s.dbs[name] = newDatabase()
		}
	}
}

// New returns a new server.
func New(opts ...Option) *Server {
	s := &Server{
		mux:       chi.NewMux(),
		dbs:       map[string]*database{},
		views:     map[string]View{},
		tempViews: map[string]View{},
		users:     map[string]string{},
		sessions:  map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes(s.mux)
	return s
}

// Start serves s over HTTP until the test ends, and returns the server URL
// ending in "/".
func Start(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	s := New(opts...)
	ts := nettest.NewHTTPTestServer(t, s)
	return s, ts.URL + "/"
}

// StartServer is like Start, but returns the underlying httptest server.
func StartServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts...)
	return s, nettest.NewHTTPTestServer(t, s)
}

func (s *Server) routes(mux *chi.Mux) {
	mux.Use(
		s.countRequests,
		GetHead,
		decompressBody,
		httpe.ToMiddleware(s.handleErrors),
	)
	mux.Get("/", httpe.ToHandler(s.root()).ServeHTTP)
	mux.Post("/_session", httpe.ToHandler(s.postSession()).ServeHTTP)

	auth := mux.With(httpe.ToMiddleware(s.authMiddleware))
	auth.Get("/_session", httpe.ToHandler(s.getSession()).ServeHTTP)
	auth.Get("/_all_dbs", httpe.ToHandler(s.allDBs()).ServeHTTP)
	auth.Get("/_uuids", httpe.ToHandler(s.uuids()).ServeHTTP)
	auth.Post("/_replicate", httpe.ToHandler(s.replicate()).ServeHTTP)

	// Databases
	auth.Get("/{db}", httpe.ToHandler(s.dbInfo()).ServeHTTP)
	auth.Put("/{db}", httpe.ToHandler(s.createDB()).ServeHTTP)
	auth.Delete("/{db}", httpe.ToHandler(s.deleteDB()).ServeHTTP)
	auth.Post("/{db}", httpe.ToHandler(s.postDoc()).ServeHTTP)
	auth.Get("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	auth.Post("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	auth.Post("/{db}/_bulk_docs", httpe.ToHandler(s.bulkDocs()).ServeHTTP)
	auth.Post("/{db}/_temp_view", httpe.ToHandler(s.tempView()).ServeHTTP)

	// Documents
	for _, prefix := range []string{"/{db}/{docid}", "/{db}/_design/{ddoc}", "/{db}/_local/{local}"} {
		auth.Get(prefix, httpe.ToHandler(s.getDoc()).ServeHTTP)
		auth.Put(prefix, httpe.ToHandler(s.putDoc()).ServeHTTP)
		auth.Delete(prefix, httpe.ToHandler(s.deleteDoc()).ServeHTTP)
	}
	for _, prefix := range []string{"/{db}/{docid}/{attname}", "/{db}/_design/{ddoc}/{attname}"} {
		auth.Get(prefix, httpe.ToHandler(s.getAttachment()).ServeHTTP)
		auth.Put(prefix, httpe.ToHandler(s.putAttachment()).ServeHTTP)
		auth.Delete(prefix, httpe.ToHandler(s.deleteAttachment()).ServeHTTP)
	}

	// Views
	auth.Get("/{db}/_design/{ddoc}/_view/{view}", httpe.ToHandler(s.view()).ServeHTTP)
	auth.Post("/{db}/_design/{ddoc}/_view/{view}", httpe.ToHandler(s.view()).ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) handleErrors(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if err := next.ServeHTTPWithError(w, r); err != nil {
			ce := &couchError{}
			if !errors.As(err, &ce) {
				ce = &couchError{
					status: http.StatusInternalServerError,
					Err:    "internal_server_error",
					Reason: err.Error(),
				}
			}
			return serveJSON(w, ce.status, ce)
		}
		return nil
	})
}

func serveJSON(w http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = io.Copy(w, bytes.NewReader(body))
	return err
}

// decodeJSON reads the request body into target.
func decodeJSON(r *http.Request, target interface{}) error {
	defer r.Body.Close() // nolint:errcheck
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return errBadRequest("bad_request", "invalid UTF-8 JSON")
	}
	return nil
}

// param returns the unescaped value of a route parameter. chi matches
// against the escaped path whenever the request carries one.
func param(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

// docID returns the full document ID addressed by the request.
func docID(r *http.Request) string {
	if ddoc := param(r, "ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	if local := param(r, "local"); local != "" {
		return "_local/" + local
	}
	return param(r, "docid")
}

func (s *Server) root() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"couchdb": "Welcome",
			"version": Version,
			"vendor": map[string]string{
				"name": "relax couchtest",
			},
		})
	})
}
