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

// Package cmd implements the relax command line tool.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/config"
	"github.com/go-kivik/relax/cmd/relax/errors"
	"github.com/go-kivik/relax/cmd/relax/log"
)

type root struct {
	log      *log.Logger
	conf     *config.Config
	cmd      *cobra.Command
	client   *relax.AsyncClient
	confFile string
	debug    bool
	format   string
	parallel int

	retryCount   int
	retryDelay   string
	retryTimeout string

	retryDelayParsed   time.Duration
	retryTimeoutParsed time.Duration

	// resolveHome is used to resolve ~ in the default config file path
	resolveHome func(string) string
}

// Execute runs the command line given in os.Args, and exits.
func Execute(ctx context.Context) {
	r := rootCmd(log.New())
	os.Exit(r.execute(ctx))
}

func (r *root) execute(ctx context.Context) int {
	r.log.SetOut(r.cmd.OutOrStdout())
	r.log.SetErr(r.cmd.ErrOrStderr())
	err := r.cmd.ExecuteContext(ctx)
	if r.client != nil {
		_ = r.client.Close()
	}
	if err == nil {
		return 0
	}
	r.log.Errorf("Error: %s", err)
	if code := errors.ExitCode(err); code != 0 {
		return code
	}
	// Anything unrecognized comes from cobra's own argument handling.
	return errors.ErrUsage
}

func resolveHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

func rootCmd(lg *log.Logger) *root {
	r := &root{
		log:         lg,
		resolveHome: resolveHome,
	}
	r.cmd = &cobra.Command{
		Use:               "relax",
		Short:             "relax talks to a CouchDB server",
		Long:              "relax creates, reads, updates and deletes CouchDB databases, documents and attachments, and queries views.",
		PersistentPreRunE: r.init,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}

	pf := r.cmd.PersistentFlags()
	config.ConfigFlags(pf)
	pf.StringVar(&r.confFile, "config", "~/.relax/config.yaml", "Path to the configuration file")
	pf.BoolVar(&r.debug, "debug", false, "Enable debug output")
	pf.StringVarP(&r.format, "output", "o", "json", "Output format. One of: json|yaml")
	pf.IntVar(&r.parallel, "parallel", 0, "Limit on concurrent requests. 0 means no limit")
	pf.IntVar(&r.retryCount, "retry", 0, "In case of transient error, retry up to this many times. A negative value retries forever")
	pf.StringVar(&r.retryDelay, "retry-delay", "", "Delay between retry attempts. Disables the default exponential backoff")
	pf.StringVar(&r.retryTimeout, "retry-timeout", "", "When used with --retry, no more retries are attempted after this timeout")

	r.cmd.AddCommand(
		listDBsCmd(r),
		createDBCmd(r),
		deleteDBCmd(r),
		infoCmd(r),
		uuidsCmd(r),
		pullCmd(r),
		getCmd(r),
		putCmd(r),
		deleteCmd(r),
		viewCmd(r),
		getAttachmentCmd(r),
		putAttachmentCmd(r),
		deleteAttachmentCmd(r),
	)
	return r
}

func (r *root) init(*cobra.Command, []string) error {
	r.log.SetDebug(r.debug)
	r.log.Debugf("Debug mode enabled")

	switch r.format {
	case "json", "yaml":
	default:
		return errors.Codef(errors.ErrUsage, "unrecognized output format: %s", r.format)
	}

	var err error
	if r.retryDelayParsed, err = config.ParseDuration(r.retryDelay); err != nil {
		return err
	}
	if r.retryTimeoutParsed, err = config.ParseDuration(r.retryTimeout); err != nil {
		return err
	}

	if r.conf, err = config.New(r.cmd.PersistentFlags()); err != nil {
		return err
	}
	if err := r.conf.Read(r.resolveHome(r.confFile), r.log); err != nil {
		return err
	}
	dsn, err := r.conf.URL()
	if err != nil {
		return err
	}
	opts := []relax.Option{
		relax.WithLogger(r.log.Slog()),
		relax.WithMaxConcurrency(r.parallel),
	}
	timeout, err := r.conf.Timeout()
	if err != nil {
		return err
	}
	if timeout > 0 {
		opts = append(opts, relax.WithTimeout(timeout))
	}
	connectTimeout, err := r.conf.ConnectTimeout()
	if err != nil {
		return err
	}
	if connectTimeout > 0 {
		opts = append(opts, relax.WithConnectTimeout(connectTimeout))
	}
	r.client, err = relax.NewAsync(dsn, r.conf.DB(), opts...)
	if err != nil {
		return errors.WithCode(err, errors.ErrUsage)
	}
	r.log.Debugf("Server: %s, database: %q", r.client.URL(), r.client.DBName())
	return nil
}

// dbOpts returns the call options selecting the database named in args at
// position i, if present.
func dbOpts(args []string, i int) []relax.Option {
	if len(args) > i {
		return []relax.Option{relax.Database(args[i])}
	}
	return nil
}

// retry calls fn until it succeeds, fails with a permanent error, or the
// retry limits are reached.
func (r *root) retry(fn func() error) error {
	if r.retryCount == 0 {
		return fn()
	}
	var bo backoff.BackOff
	switch {
	case r.retryDelayParsed == 0 && r.retryDelay != "":
		bo = &backoff.ZeroBackOff{}
	case r.retryDelayParsed != 0:
		bo = backoff.NewConstantBackOff(r.retryDelayParsed)
	default:
		bo = backoff.NewExponentialBackOff()
	}
	if r.retryCount > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.retryCount))
	}
	if r.retryTimeoutParsed > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), r.retryTimeoutParsed)
		defer cancel()
		bo = backoff.WithContext(bo, ctx)
	}
	var count int
	return backoff.RetryNotify(func() error {
		count++
		err := fn()
		if err != nil && !errors.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, next time.Duration) {
		msg := fmt.Sprintf("Warning: Transient problem: %s. Will retry in %s.", err, fmtDuration(next))
		if remain := r.retryCount - count; r.retryCount > 0 && remain > 0 {
			msg += fmt.Sprintf(" %d retries left.", remain)
		}
		r.log.Errorf("%s", msg)
	})
}

// nolint:gomnd
func fmtDuration(dur time.Duration) string {
	s := dur.Seconds()
	if s < 60 {
		return fmt.Sprintf("%0.2fs", s)
	}
	m := int(s / 60)
	s -= float64(m) * 60
	if m < 60 {
		return fmt.Sprintf("%dm%ds", m, int(s))
	}
	h := m / 60
	m -= h * 60
	if h < 24 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	d := h / 24
	h -= d * 24
	return fmt.Sprintf("%dd%dh%dm", d, h, m)
}
