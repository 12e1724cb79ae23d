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
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/flimzy/httpe"
)

const (
	sessionCookieName = "AuthSession"

	uuidMaxCount = 1000
)

// newUUID returns a random UUID in CouchDB's format: 32 hex digits.
func newUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Server) postSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var creds struct {
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &creds); err != nil {
			return err
		}
		s.mu.Lock()
		want, ok := s.users[creds.Name]
		if !ok || want != creds.Password {
			s.mu.Unlock()
			return errBadLogin
		}
		token := newUUID()
		s.sessions[token] = creds.Name
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
		})
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    true,
			"name":  creds.Name,
			"roles": []string{"_admin"},
		})
	})
}

func (s *Server) getSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var name interface{}
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			s.mu.Lock()
			if n, ok := s.sessions[cookie.Value]; ok {
				name = n
			}
			s.mu.Unlock()
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true,
			"userCtx": map[string]interface{}{
				"name":  name,
				"roles": []string{},
			},
		})
	})
}

func (s *Server) uuids() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		count := 1
		if param := r.URL.Query().Get("count"); param != "" {
			var err error
			count, err = strconv.Atoi(param)
			if err != nil || count < 1 {
				return errBadRequest("bad_request", "count must be a positive integer")
			}
		}
		if count > uuidMaxCount {
			return errBadRequest("bad_request", fmt.Sprintf("count must not exceed %d", uuidMaxCount))
		}
		uuids := make([]string, count)
		for i := range uuids {
			uuids[i] = newUUID()
		}
		return serveJSON(w, http.StatusOK, map[string][]string{"uuids": uuids})
	})
}
