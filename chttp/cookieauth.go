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
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SessionCookieName is the name of the CouchDB session cookie.
const SessionCookieName = "AuthSession"

// sessionRenewal is how long before its expiry a session cookie is renewed.
const sessionRenewal = time.Minute

// cookieAuth logs in through /_session, and sends the session cookie with
// every request. It holds session state once installed, so each Client gets
// its own copy.
type cookieAuth struct {
	Username string `json:"name"`
	Password string `json:"password"`

	client *Client
	next   http.RoundTripper
}

var (
	_ authenticator = &cookieAuth{}
	_ Option        = (*cookieAuth)(nil)
)

func (a *cookieAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &cookieAuth{Username: a.Username, Password: a.Password}
	}
}

func (a *cookieAuth) String() string {
	return fmt.Sprintf("[CookieAuth{user:%s,pass:%s}]", a.Username, mask(a.Password, 0))
}

func (a *cookieAuth) Authenticate(c *Client) error {
	if c.Jar == nil {
		// cookiejar.New never fails.
		c.Jar, _ = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	}
	a.client = c
	a.next = baseTransport(c)
	c.Transport = a
	return nil
}

// session returns the session cookie held in the jar, or nil.
func (a *cookieAuth) session() *http.Cookie {
	for _, cookie := range a.client.Jar.Cookies(a.client.dsn) {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	return nil
}

// fresh reports whether cookie can be sent as is. A cookie without an expiry
// stays fresh until the server rejects it.
func fresh(cookie *http.Cookie) bool {
	if cookie == nil {
		return false
	}
	return cookie.Expires.IsZero() || cookie.Expires.After(time.Now().Add(sessionRenewal))
}

type loginKey struct{}

func (a *cookieAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	if login, _ := req.Context().Value(loginKey{}).(bool); login {
		return a.next.RoundTrip(req)
	}
	if _, err := req.Cookie(SessionCookieName); err != nil {
		cookie, err := a.login(req.Context())
		if err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.AddCookie(cookie)
	}
	res, err := a.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		a.expire()
	}
	return res, nil
}

// login returns a fresh session cookie, posting to /_session when the jar
// holds none. Concurrent callers share a single login.
func (a *cookieAuth) login(ctx context.Context) (*http.Cookie, error) {
	if cookie := a.session(); fresh(cookie) {
		return cookie, nil
	}
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	if cookie := a.session(); fresh(cookie) {
		return cookie, nil
	}
	ctx = context.WithValue(ctx, loginKey{}, true)
	if err := a.client.DoJSON(ctx, http.MethodPost, "/_session", &Options{JSON: a}, nil); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return nil, &sessionError{err: ce}
		}
		return nil, err
	}
	cookie := a.session()
	if cookie == nil {
		return nil, &sessionError{err: &Error{
			Kind:   KindCouch,
			Status: http.StatusBadGateway,
			Reason: "no session cookie in /_session response",
		}}
	}
	return cookie, nil
}

// expire drops the session cookie, so the next request logs in again.
func (a *cookieAuth) expire() {
	cookie := a.session()
	if cookie == nil {
		return
	}
	cookie.MaxAge = -1
	a.client.Jar.SetCookies(a.client.dsn, []*http.Cookie{cookie})
}

// sessionError carries a failed login through the http client, which wraps
// transport errors in *url.Error.
type sessionError struct {
	err *Error
}

func (e *sessionError) Error() string { return e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// sessionFailure returns the classified error of a failed login in place of
// the *url.Error wrapping it. Other errors are returned unchanged.
func sessionFailure(err error) error {
	var se *sessionError
	if errors.As(err, &se) {
		return se.err
	}
	return err
}
