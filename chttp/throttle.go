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
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Throttle errors.
var (
	ErrThrottleLimits = errors.New("must be greater than zero")
	ErrThrottleWait   = errors.New("limiter waiting failed")
)

// throttle is an http.RoundTripper, using the time/rate token bucket limiter
// to restrict outbound calls.
type throttle struct {
	limiter *rate.Limiter
	client  *Client
	next    http.RoundTripper
}

var _ http.RoundTripper = (*throttle)(nil)

func (t *throttle) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !t.limiter.Allow() {
		start := time.Now()
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrThrottleWait, err)
		}
		if logger := t.client.logger; logger != nil {
			logger.DebugContext(ctx, "throttle wait complete",
				"waited", time.Since(start).String(),
				"path", req.URL.Path,
			)
		}
	}
	return t.next.RoundTrip(req)
}

type throttleOption struct {
	rps   float64
	burst int
}

func (o *throttleOption) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.throttle = o
	}
}

func (o *throttleOption) String() string {
	return fmt.Sprintf("[Throttle{rps:%g,burst:%d}]", o.rps, o.burst)
}

func (o *throttleOption) wrap(c *Client) error {
	if o.rps <= 0 || o.burst <= 0 {
		return fmt.Errorf("rps[%g] and burst[%d] %w", o.rps, o.burst, ErrThrottleLimits)
	}
	c.Transport = &throttle{
		limiter: rate.NewLimiter(rate.Limit(o.rps), o.burst),
		client:  c,
		next:    baseTransport(c),
	}
	return nil
}

// OptionThrottle limits outbound requests to rps per second, allowing bursts
// of up to burst requests. Requests over the limit wait for a token, or fail
// when their context ends first. The limit covers session requests made by
// cookie auth.
func OptionThrottle(rps float64, burst int) Option {
	return &throttleOption{rps: rps, burst: burst}
}
