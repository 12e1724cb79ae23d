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

// Package config resolves the CLI's connection settings from a YAML file of
// named contexts, RELAX_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/relax/cmd/relax/errors"
	"github.com/go-kivik/relax/cmd/relax/log"
)

// EnvPrefix is the prefix of the environment variables read by the CLI.
const EnvPrefix = "RELAX"

// Setting keys. Each is also the name of a flag, and, upper cased with
// underscores, of an environment variable.
const (
	KeyContext        = "context"
	KeyURL            = "url"
	KeyDB             = "db"
	KeyUser           = "user"
	KeyPassword       = "password"
	KeyTimeout        = "timeout"
	KeyConnectTimeout = "connect-timeout"
)

// Context is a named set of connection settings.
type Context struct {
	URL      string `yaml:"url"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Timeout  string `yaml:"timeout"`
}

// File is the layout of the configuration file.
type File struct {
	CurrentContext string              `yaml:"current-context"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// Config holds the resolved settings.
type Config struct {
	v *viper.Viper
}

// New returns a Config reading the environment, and the flags where they
// are set.
func New(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.WithCode(err, errors.ErrUsage)
		}
	}
	return &Config{v: v}, nil
}

// ConfigFlags registers the flags read by Config.
func ConfigFlags(pf *pflag.FlagSet) {
	pf.String(KeyContext, "", "Name of the configuration file context to use")
	pf.String(KeyURL, "", "CouchDB server URL, optionally with credentials")
	pf.String(KeyDB, "", "Database to operate on")
	pf.String(KeyUser, "", "User name, when not part of the URL")
	pf.String(KeyPassword, "", "Password, when not part of the URL")
	pf.String(KeyTimeout, "", "Total time limit for each request, as a duration or in seconds")
	pf.String(KeyConnectTimeout, "", "Time limit for establishing each connection, as a duration or in seconds")
}

// Read loads filename, and uses its selected context as the lowest
// precedence source of settings. A missing file is not an error.
func (c *Config) Read(filename string, lg *log.Logger) error {
	f, err := readFile(filename)
	if err != nil {
		return err
	}
	if f == nil {
		lg.Debugf("no config file at %q", filename)
		return nil
	}
	lg.Debugf("read config file %q", filename)
	name := c.v.GetString(KeyContext)
	if name == "" {
		name = f.CurrentContext
	}
	name, cx, err := f.context(name)
	if err != nil {
		return err
	}
	if cx == nil {
		return nil
	}
	lg.Debugf("using context %q", name)
	c.v.SetDefault(KeyURL, cx.URL)
	c.v.SetDefault(KeyDB, cx.DB)
	c.v.SetDefault(KeyUser, cx.User)
	c.v.SetDefault(KeyPassword, cx.Password)
	c.v.SetDefault(KeyTimeout, cx.Timeout)
	return nil
}

func readFile(filename string) (*File, error) {
	if filename == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrNoInput)
	}
	f := &File{}
	if err := yaml.Unmarshal(buf, f); err != nil {
		return nil, errors.Codef(errors.ErrData, "%s: %s", filename, err)
	}
	return f, nil
}

// context returns the named context and its name. With no name, a file
// holding a single context selects it.
func (f *File) context(name string) (string, *Context, error) {
	if name == "" {
		if len(f.Contexts) == 1 {
			for name, cx := range f.Contexts {
				return name, cx, nil
			}
		}
		return "", nil, nil
	}
	cx, ok := f.Contexts[name]
	if !ok {
		return "", nil, errors.Codef(errors.ErrUsage, "context %q not found", name)
	}
	return name, cx, nil
}

// URL returns the server URL, with the configured credentials added unless
// it carries its own. An empty URL means the library default.
func (c *Config) URL() (string, error) {
	raw := c.v.GetString(KeyURL)
	user := c.v.GetString(KeyUser)
	if raw == "" || user == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.WithCode(err, errors.ErrUsage)
	}
	if u.User == nil {
		u.User = url.UserPassword(user, c.v.GetString(KeyPassword))
	}
	return u.String(), nil
}

// DB returns the configured database name.
func (c *Config) DB() string {
	return c.v.GetString(KeyDB)
}

// Timeout returns the request timeout, or 0 if unset.
func (c *Config) Timeout() (time.Duration, error) {
	return ParseDuration(c.v.GetString(KeyTimeout))
}

// ConnectTimeout returns the connect timeout, or 0 if unset.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	return ParseDuration(c.v.GetString(KeyConnectTimeout))
}

// ParseDuration parses a Go duration, or a plain number of seconds. Negative
// values are rejected.
func ParseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(val); err != nil {
		return 0, errors.WithCode(err, errors.ErrUsage)
	}
	if d < 0 {
		return 0, errors.Code(errors.ErrUsage, "negative duration not permitted")
	}
	return d, nil
}
