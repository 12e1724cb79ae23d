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

package couchtest

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gitlab.com/flimzy/httpe"
)

// GetHead routes HEAD requests without a HEAD route of their own to the GET
// handler, and discards the response body.
//
// Forked from chi middleware package.
func GetHead(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		rctx := chi.RouteContext(r.Context())
		routePath := rctx.RoutePath
		if routePath == "" {
			routePath = r.URL.RawPath
			if routePath == "" {
				routePath = r.URL.Path
			}
		}
		if rctx.Routes.Match(chi.NewRouteContext(), http.MethodHead, routePath) {
			next.ServeHTTP(w, r)
			return
		}
		type headerWriter interface {
			Header() http.Header
			WriteHeader(statusCode int)
		}
		discard := struct {
			headerWriter
			io.Writer
		}{
			headerWriter: w,
			Writer:       io.Discard,
		}
		rctx.RouteMethod = http.MethodGet
		rctx.RoutePath = routePath
		next.ServeHTTP(discard, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// decompressBody undoes gzip request compression.
func decompressBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			next.ServeHTTP(w, r)
			return
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			_ = serveJSON(w, http.StatusBadRequest, errBadRequest("bad_request", "invalid gzip body"))
			return
		}
		r.Body = zr
		r.Header.Del("Content-Encoding")
		next.ServeHTTP(w, r)
	})
}

// authRequired reports whether any credential is configured.
func (s *Server) authRequired() bool {
	return len(s.users) > 0 || s.token != ""
}

// authMiddleware accepts basic auth, a bearer token, or a session cookie.
func (s *Server) authMiddleware(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if !s.authRequired() || s.authenticated(r) {
			return next.ServeHTTPWithError(w, r)
		}
		return errUnauthorized
	})
}

func (s *Server) authenticated(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, password, ok := r.BasicAuth(); ok {
		want, known := s.users[name]
		return known && want == password
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return s.token != "" && token == s.token
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		_, ok := s.sessions[cookie.Value]
		return ok
	}
	return false
}
