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
	"net"
	"net/http"
	"time"
)

type connectTimeoutKey struct{}

// WithConnectTimeout returns a context carrying a per-dial timeout, honored
// by transports created with [NewTransport].
func WithConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

// ContextConnectTimeout returns the connect timeout set on ctx, or zero.
func ContextConnectTimeout(ctx context.Context) time.Duration {
	d, _ := ctx.Value(connectTimeoutKey{}).(time.Duration)
	return d
}

// NewTransport returns a clone of [http.DefaultTransport] whose dialer
// applies the connect timeout carried by each request's context.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialContext
	return t
}

func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   ContextConnectTimeout(ctx),
		KeepAlive: 30 * time.Second, // nolint:gomnd
	}
	return d.DialContext(ctx, network, addr)
}
