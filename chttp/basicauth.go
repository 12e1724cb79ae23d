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
	"fmt"
	"net/http"
	"strings"
)

// authenticator is an auth mechanism which installs itself on a Client.
type authenticator interface {
	Authenticate(*Client) error
}

// credentialTransport stamps credentials on each request before passing it
// to next. The caller's request is never modified.
type credentialTransport struct {
	stamp func(*http.Request)
	next  http.RoundTripper
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.stamp(req)
	return t.next.RoundTrip(req)
}

// stampCredentials wraps the transport of c with stamp.
func stampCredentials(c *Client, stamp func(*http.Request)) {
	c.Transport = &credentialTransport{stamp: stamp, next: baseTransport(c)}
}

func baseTransport(c *Client) http.RoundTripper {
	if c.Transport == nil {
		return http.DefaultTransport
	}
	return c.Transport
}

// basicAuth sends HTTP Basic credentials with every request.
type basicAuth struct {
	Username string
	Password string
}

var (
	_ authenticator = &basicAuth{}
	_ Option        = (*basicAuth)(nil)
)

func (a *basicAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &basicAuth{Username: a.Username, Password: a.Password}
	}
}

func (a *basicAuth) String() string {
	return fmt.Sprintf("[BasicAuth{user:%s,pass:%s}]", a.Username, mask(a.Password, 0))
}

func (a *basicAuth) Authenticate(c *Client) error {
	stampCredentials(c, func(req *http.Request) {
		req.SetBasicAuth(a.Username, a.Password)
	})
	return nil
}

// jwtAuth sends a bearer token with every request.
type jwtAuth struct {
	Token string
}

var (
	_ authenticator = &jwtAuth{}
	_ Option        = (*jwtAuth)(nil)
)

func (a *jwtAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &jwtAuth{Token: a.Token}
	}
}

func (a *jwtAuth) String() string {
	return fmt.Sprintf("[JWTAuth{token:%s}]", mask(a.Token, 3))
}

func (a *jwtAuth) Authenticate(c *Client) error {
	stampCredentials(c, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	})
	return nil
}

// mask replaces all but the first keep bytes of secret with asterisks.
func mask(secret string, keep int) string {
	if len(secret) <= keep {
		return secret
	}
	return secret[:keep] + strings.Repeat("*", len(secret)-keep)
}
