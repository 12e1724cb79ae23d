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

package relax

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-kivik/relax/chttp"
)

// Option is a client or per-call option. Options ignore targets they do not
// apply to, so client options passed to a call, or call options passed to a
// constructor, have no effect. The options of package chttp may be passed to
// [New] and [NewAsync] as well.
type Option = chttp.Option

type allOptions []Option

var _ Option = (allOptions)(nil)

func (o allOptions) Apply(t interface{}) {
	for _, opt := range o {
		if opt != nil {
			opt.Apply(t)
		}
	}
}

func (o allOptions) String() string {
	return fmt.Sprintf("%v", []Option(o))
}

// config is the base configuration of a client. It is never modified after
// construction.
type config struct {
	httpClient         *http.Client
	ownsHTTPClient     bool
	timeout            time.Duration
	connectTimeout     time.Duration
	replicationTimeout time.Duration
	noGzip             bool
	header             http.Header
	logger             *slog.Logger
	maxConcurrency     int
}

func newConfig(opts []Option) *config {
	cfg := &config{
		timeout:            DefaultTimeout,
		connectTimeout:     DefaultConnectTimeout,
		replicationTimeout: DefaultReplicationTimeout,
		header:             http.Header{},
	}
	allOptions(opts).Apply(cfg)
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Transport: chttp.NewTransport()}
		cfg.ownsHTTPClient = true
	}
	return cfg
}

// connOptions returns the chttp options derived from opts and cfg.
func (cfg *config) connOptions(opts []Option) []Option {
	connOpts := append([]Option{}, opts...)
	if cfg.noGzip {
		connOpts = append(connOpts, chttp.OptionNoRequestCompression())
	}
	if cfg.logger != nil {
		connOpts = append(connOpts, chttp.OptionLogger(cfg.logger))
	}
	return connOpts
}

// call holds the settings of a single operation: the base configuration
// merged with the per-call options.
type call struct {
	db             string
	allOrNothing   bool
	createTarget   bool
	header         http.Header
	timeout        time.Duration
	connectTimeout time.Duration
}

func (cfg *config) newCall(db string, opts []Option) *call {
	c := &call{
		db:             db,
		header:         cfg.header.Clone(),
		connectTimeout: cfg.connectTimeout,
	}
	allOptions(opts).Apply(c)
	return c
}

// context derives the operation's context from parent. The default total
// timeout is used unless the call overrides it.
func (c *call) context(parent context.Context, def time.Duration) (context.Context, context.CancelFunc) {
	timeout := def
	if c.timeout > 0 {
		timeout = c.timeout
	}
	ctx := chttp.WithConnectTimeout(parent, c.connectTimeout)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *call) options() *chttp.Options {
	return &chttp.Options{Header: c.header.Clone()}
}

type clientOptionFunc struct {
	name string
	fn   func(*config)
}

func (o clientOptionFunc) Apply(target interface{}) {
	if cfg, ok := target.(*config); ok {
		o.fn(cfg)
	}
}

func (o clientOptionFunc) String() string { return o.name }

type callOptionFunc struct {
	name string
	fn   func(*call)
}

func (o callOptionFunc) Apply(target interface{}) {
	if c, ok := target.(*call); ok {
		o.fn(c)
	}
}

func (o callOptionFunc) String() string { return o.name }

// WithHTTPClient sets the *http.Client used for all requests. The client is
// copied; authentication options never modify it, and Close leaves its idle
// connections alone.
func WithHTTPClient(client *http.Client) Option {
	return clientOptionFunc{name: "[HTTPClient]", fn: func(cfg *config) {
		cfg.httpClient = client
	}}
}

// WithTimeout sets the default total timeout of every operation other than
// replication. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return clientOptionFunc{name: fmt.Sprintf("[Timeout:%s]", d), fn: func(cfg *config) {
		cfg.timeout = d
	}}
}

// WithConnectTimeout sets the default timeout for establishing each
// connection. It is honored by the default transport, and by any transport
// built with [chttp.NewTransport].
func WithConnectTimeout(d time.Duration) Option {
	return clientOptionFunc{name: fmt.Sprintf("[ConnectTimeout:%s]", d), fn: func(cfg *config) {
		cfg.connectTimeout = d
	}}
}

// WithReplicationTimeout sets the default total timeout of replication
// requests, which wait for the server to finish the job.
func WithReplicationTimeout(d time.Duration) Option {
	return clientOptionFunc{name: fmt.Sprintf("[ReplicationTimeout:%s]", d), fn: func(cfg *config) {
		cfg.replicationTimeout = d
	}}
}

// WithGzip enables or disables gzip compression of request bodies. It is
// enabled by default.
func WithGzip(enabled bool) Option {
	return clientOptionFunc{name: fmt.Sprintf("[Gzip:%t]", enabled), fn: func(cfg *config) {
		cfg.noGzip = !enabled
	}}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return clientOptionFunc{name: fmt.Sprintf("[Header:%s]", key), fn: func(cfg *config) {
		cfg.header.Add(key, value)
	}}
}

// WithLogger sets a logger which receives one debug record per request.
func WithLogger(logger *slog.Logger) Option {
	return clientOptionFunc{name: "[Logger]", fn: func(cfg *config) {
		cfg.logger = logger
	}}
}

// WithMaxConcurrency limits the number of operations an [AsyncClient] runs
// at once. Zero, the default, means no limit. It has no effect on [Client],
// which always runs one operation at a time.
func WithMaxConcurrency(n int) Option {
	return clientOptionFunc{name: fmt.Sprintf("[MaxConcurrency:%d]", n), fn: func(cfg *config) {
		cfg.maxConcurrency = n
	}}
}

// Database directs a single call to the named database instead of the
// client's current one.
func Database(name string) Option {
	return callOptionFunc{name: fmt.Sprintf("[Database:%s]", name), fn: func(c *call) {
		c.db = name
	}}
}

// AllOrNothing makes a bulk write transactional.
func AllOrNothing() Option {
	return callOptionFunc{name: "[AllOrNothing]", fn: func(c *call) {
		c.allOrNothing = true
	}}
}

// CreateTarget asks the server to create the target database of a
// replication if it does not exist.
func CreateTarget() Option {
	return callOptionFunc{name: "[CreateTarget]", fn: func(c *call) {
		c.createTarget = true
	}}
}

// Header adds a header to a single call.
func Header(key, value string) Option {
	return callOptionFunc{name: fmt.Sprintf("[Header:%s]", key), fn: func(c *call) {
		c.header.Add(key, value)
	}}
}

// Timeout overrides the total timeout of a single call.
func Timeout(d time.Duration) Option {
	return callOptionFunc{name: fmt.Sprintf("[Timeout:%s]", d), fn: func(c *call) {
		c.timeout = d
	}}
}

// ConnectTimeout overrides the connect timeout of a single call.
func ConnectTimeout(d time.Duration) Option {
	return callOptionFunc{name: fmt.Sprintf("[ConnectTimeout:%s]", d), fn: func(c *call) {
		c.connectTimeout = d
	}}
}
