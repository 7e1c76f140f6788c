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

// Package config manages CLI connection contexts.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/log"
)

// EnvPrefix is the prefix of environment variables read by the CLI.
const EnvPrefix = "COUCHBULK"

// Config is the full app configuration file.
type Config struct {
	Contexts       map[string]*Context `yaml:"contexts"`
	CurrentContext string              `yaml:"current-context"`
	log            log.Logger
}

// Context is a complete, or partial, server DSN.
type Context struct {
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func (c *Context) String() string {
	return c.DSN()
}

func (c *Context) dsn() *url.URL {
	var user *url.Userinfo
	if c.User != "" || c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}
	u := &url.URL{
		Scheme: c.Scheme,
		Host:   c.Host,
		User:   user,
	}
	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	return u
}

// DSN returns the context as a URL, including credentials and database.
func (c *Context) DSN() string {
	return c.dsn().String()
}

// ServerURL returns the server root URL, without credentials or database.
func (c *Context) ServerURL() (string, error) {
	if c.Host == "" {
		return "", errors.Code(errors.ErrUsage, "server hostname required")
	}
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	switch scheme {
	case "http", "https":
	default:
		return "", errors.Codef(errors.ErrUsage, "unsupported URL scheme: %s", scheme)
	}
	return (&url.URL{Scheme: scheme, Host: c.Host, Path: "/"}).String(), nil
}

// DB returns the database name, or an error if none is set.
func (c *Context) DB() (string, error) {
	if c.Database == "" {
		return "", errors.Code(errors.ErrUsage, "database name required")
	}
	return c.Database, nil
}

// Timeouts holds the transport settings chosen on the command line.
type Timeouts struct {
	Open time.Duration
	Read time.Duration
}

// Client returns a client for the context's server.
func (c *Context) Client(t Timeouts, failSilent bool, lg log.Logger) (*couchbulk.Client, error) {
	addr, err := c.ServerURL()
	if err != nil {
		return nil, err
	}
	client, err := couchbulk.New(couchbulk.Config{
		URL:         addr,
		Username:    c.User,
		Password:    c.Password,
		OpenTimeout: t.Open,
		ReadTimeout: t.Read,
		FailSilent:  failSilent,
		UserAgent:   "couchbulk-cli",
		Logger:      lg,
	})
	return client, errors.Code(errors.ErrUsage, err)
}

// UnmarshalYAML handles parsing of a Context from YAML input, either as
// separate fields, or as a single dsn.
func (c *Context) UnmarshalYAML(v *yaml.Node) error {
	dsn := struct {
		DSN string `yaml:"dsn"`
	}{}
	if err := v.Decode(&dsn); err != nil {
		return err
	}
	if dsn.DSN == "" {
		type alias Context
		intl := alias{}
		err := v.Decode(&intl)
		*c = Context(intl)
		return err
	}
	cx, err := ContextFromDSN(dsn.DSN)
	if err != nil {
		return err
	}
	*c = *cx
	return nil
}

// New returns an empty configuration object. Call Read() to populate it.
func New() *Config {
	return &Config{
		Contexts: make(map[string]*Context),
	}
}

// Read populates c with app configuration found in filename. If a DSN is
// set in the environment, it's added as a context called '*' and made
// current.
func (c *Config) Read(filename string, env *viper.Viper, lg log.Logger) error {
	c.log = lg
	if err := c.readYAML(filename); err != nil {
		return errors.WithCode(err, errors.ErrUsage)
	}
	if dsn := env.GetString("dsn"); dsn != "" {
		if err := c.setDefaultDSN(dsn); err != nil {
			return err
		}
		lg.Debug("set default DSN from environment")
	}
	return nil
}

func (c *Config) readYAML(filename string) error {
	if filename == "" {
		c.log.Debug("no config file specified")
		return nil
	}
	f, err := os.Open(filename)
	if err != nil {
		c.log.Debugf("failed to read config: %s", err)
		if os.IsNotExist(err) {
			err = nil
		}
		return err
	}
	defer f.Close() // nolint:errcheck
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		c.log.Debugf("YAML parse error: %s", err)
		return err
	}
	c.log.Debugf("successfully read config file %q", filename)
	return nil
}

// CurrentCx returns the current context.
func (c *Config) CurrentCx() (*Context, error) {
	if c.CurrentContext == "" {
		if len(c.Contexts) == 1 {
			for _, cx := range c.Contexts {
				return cx, nil
			}
		}
		return nil, errors.Code(errors.ErrUsage, "no context specified")
	}
	cx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return nil, errors.Codef(errors.ErrUsage, "context %q not found", c.CurrentContext)
	}
	return cx, nil
}

func (c *Config) setDefaultDSN(dsn string) error {
	cx, err := ContextFromDSN(dsn)
	if err != nil {
		return err
	}
	c.Contexts["*"] = cx
	c.CurrentContext = "*"
	return nil
}

// ContextFromDSN parses a DSN into a context. A DSN with no scheme or host
// names only a database.
func ContextFromDSN(dsn string) (*Context, error) {
	uri, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrUsage)
	}
	var user, password string
	if u := uri.User; u != nil {
		user = u.Username()
		password, _ = u.Password()
	}
	db := strings.Trim(uri.Path, "/")
	if strings.Contains(db, "/") {
		return nil, errors.Codef(errors.ErrUsage, "DSN must name at most a database: %s", dsn)
	}
	return &Context{
		Scheme:   uri.Scheme,
		Host:     uri.Host,
		User:     user,
		Password: password,
		Database: db,
	}, nil
}

// Resolve returns the context for a DSN given on the command line. An
// incomplete DSN, such as a bare database name, is merged with the current
// context. An empty DSN returns the current context.
func (c *Config) Resolve(dsn string) (*Context, error) {
	if dsn == "" {
		return c.CurrentCx()
	}
	cx, err := ContextFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if cx.Host != "" {
		return cx, nil
	}
	cur, err := c.CurrentCx()
	if err != nil {
		return nil, errors.Codef(errors.ErrUsage, "incomplete DSN %q and no current context", dsn)
	}
	c.log.Debugf("Incomplete DSN provided: %q, merging with current context: %q", dsn, cur)
	merged := *cur
	if cx.Database != "" {
		merged.Database = cx.Database
	}
	return &merged, nil
}
