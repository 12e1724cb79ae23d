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

// Package nettest provides HTTP test servers which shut down with the test
// that started them.
package nettest

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewHTTPTestServer wraps [httptest.NewServer]. The server is closed, and
// its idle client connections dropped, when t completes. Calling Close
// again in the test is harmless.
func NewHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(handler)
	t.Cleanup(s.Close)
	return s
}
