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
	"log/slog"
	"net/http"
	"net/url"
)

// Option is a configuration value. Apply is called once per possible target;
// an option ignores targets it does not recognize.
type Option interface {
	Apply(target interface{})
	String() string
}

// Options are optional parameters which may be sent with a request.
type Options struct {
	// Accept sets the request's Accept header. Defaults to "application/json".
	// To specify any, use "*/*".
	Accept string

	// ContentType sets the requests's Content-Type header. Defaults to
	// "application/json". Ignored when JSON is set.
	ContentType string

	// Body sets a raw body for the request.
	Body []byte

	// JSON is an arbitrary value which is marshaled with [EncodeJSON] to the
	// request's body. It is an error to set both Body and JSON on the same
	// request.
	JSON interface{}

	// Query is appended to the exiting url, if present. If the passed url
	// already contains query parameters, the values in Query are appended.
	// No merging takes place.
	Query url.Values

	// Header is a list of default headers to be set on the request.
	Header http.Header

	// NoGzip disables gzip compression on the request body.
	NoGzip bool
}

type optionNoRequestCompression struct{}

var _ Option = optionNoRequestCompression{}

func (optionNoRequestCompression) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.noGzip = true
	}
}

func (optionNoRequestCompression) String() string { return "NoRequestCompression" }

// OptionNoRequestCompression instructs the client not to use gzip
// compression for request bodies sent to the server.
func OptionNoRequestCompression() Option {
	return optionNoRequestCompression{}
}

type optionUserAgent string

func (a optionUserAgent) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.UserAgents = append(client.UserAgents, string(a))
	}
}

func (a optionUserAgent) String() string {
	return fmt.Sprintf("[UserAgent:%s]", string(a))
}

// OptionUserAgent may be passed as an option when creating a client object,
// to append to the default User-Agent header sent on all requests.
func OptionUserAgent(ua string) Option {
	return optionUserAgent(ua)
}

type optionLogger struct {
	logger *slog.Logger
}

func (o optionLogger) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.logger = o.logger
	}
}

func (optionLogger) String() string { return "[Logger]" }

// OptionLogger sets the logger which receives one debug record per HTTP
// exchange. A nil logger disables logging.
func OptionLogger(logger *slog.Logger) Option {
	return optionLogger{logger: logger}
}

// CookieAuth provides CouchDB [Cookie auth]. Cookie Auth is the default
// authentication method if credentials are included in the connection URL
// passed to [New].
//
// [Cookie auth]: http://docs.couchdb.org/en/2.0.0/api/server/authn.html#cookie-authentication
func CookieAuth(username, password string) Option {
	return &cookieAuth{
		Username: username,
		Password: password,
	}
}

// BasicAuth provides HTTP Basic Auth for a client.
func BasicAuth(username, password string) Option {
	return &basicAuth{
		Username: username,
		Password: password,
	}
}

// JWTAuth provides JWT based auth for a client.
func JWTAuth(token string) Option {
	return &jwtAuth{
		Token: token,
	}
}
