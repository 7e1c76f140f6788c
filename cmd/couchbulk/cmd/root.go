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

// Package cmd implements the couchbulk command line tool.
package cmd

import (
	"context"
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/config"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/output"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/output/json"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/output/yaml"
	"github.com/go-kivik/couchbulk/log"
)

type root struct {
	confFile  string
	debug     bool
	logFormat string
	log       log.Logger
	conf      *config.Config
	env       *viper.Viper
	cmd       *cobra.Command
	fmt       *output.Formatter

	connectTimeout string
	readTimeout    string
	timeouts       config.Timeouts
	failSilent     bool

	stringOptions map[string]string
	boolOptions   map[string]string
	options       map[string]interface{}

	// retry attempts
	retryCount         int
	retryDelay         string
	retryTimeout       string
	retryDelayParsed   time.Duration
	retryTimeoutParsed time.Duration

	// resolveHome is used to resolve ~ in the default config file path
	resolveHome func(string) string
}

// Execute runs the command line tool, and returns the exit status.
func Execute(ctx context.Context) int {
	lg := log.New()
	root := rootCmd(lg)
	return root.execute(ctx)
}

func (r *root) execute(ctx context.Context) int {
	err := r.cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	return extractExitCode(err)
}

func extractExitCode(err error) int {
	if code := errors.InspectErrorCode(err); code != 0 {
		return code
	}

	// Any unhandled errors are assumed to be from Cobra, so return a "failed
	// to initialize" error
	return errors.ErrUsage
}

func formatter() *output.Formatter {
	f := output.New()
	f.Register("json", json.New())
	f.Register("yaml", yaml.New())
	return f
}

func resolveHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, _ := user.Current()
	return filepath.Join(usr.HomeDir, path[2:])
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func rootCmd(lg log.Logger) *root {
	r := &root{
		log:         lg,
		fmt:         formatter(),
		conf:        config.New(),
		env:         newEnv(),
		resolveHome: resolveHome,
	}
	r.cmd = &cobra.Command{
		Use:   "couchbulk",
		Short: "couchbulk streams documents in and out of CouchDB",
		Long: `couchbulk pages through large CouchDB databases and views, and writes
documents in size-bounded _bulk_docs batches.

Every flag may also be set with a COUCHBULK_ environment variable, for
example COUCHBULK_PAGE_SIZE=100. COUCHBULK_DSN sets the default server.`,
		PersistentPreRunE: r.init,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := r.cmd.PersistentFlags()
	pf.StringVar(&r.confFile, "config", "~/.couchbulk/config", "Path to config file to use for CLI requests")
	pf.BoolVar(&r.debug, "debug", false, "Enable debug output")
	pf.StringVar(&r.logFormat, "log-format", "text", "Log format. One of: text|json")
	pf.IntVar(&r.retryCount, "retry", 0, "In case of transient error, retry up to this many times. A negative value retries forever.")
	pf.StringToStringVarP(&r.stringOptions, "option", "O", nil, "Query option, specified as key=value. May be repeated.")
	pf.StringToStringVarP(&r.boolOptions, "option-bool", "B", nil, "Boolean query option, specified as key=value. May be repeated.")
	pf.BoolVar(&r.failSilent, "fail-silent", false, "Report failed bulk requests instead of aborting")

	pf.StringVar(&r.connectTimeout, "connect-timeout", "", "Limits the time spent establishing a connection, including the TLS handshake. Defaults to 150s.")
	pf.StringVar(&r.readTimeout, "read-timeout", "", "Limits how long the server may be silent while a response is awaited or read. Defaults to 150s.")
	pf.StringVar(&r.retryDelay, "retry-delay", "", "Delay between retry attempts. Disables the default exponential backoff algorithm.")
	pf.StringVar(&r.retryTimeout, "retry-timeout", "", "When used with --retry, no more retries will be attempted after this timeout.")

	r.cmd.AddCommand(dumpCmd(r))
	r.cmd.AddCommand(loadCmd(r))
	r.cmd.AddCommand(copyCmd(r))
	r.cmd.AddCommand(bulkDeleteCmd(r))
	r.cmd.AddCommand(versionCmd(r))

	return r
}

func parseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	if d, err := strconv.ParseFloat(val, 64); err == nil {
		if d < 0 {
			return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
		}
		return time.Duration(d * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.Code(errors.ErrUsage, err)
	}
	if d < 0 {
		return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
	}
	return d, nil
}

// applyEnv sets every flag not given on the command line from its
// COUCHBULK_ environment variable, if set.
func (r *root) applyEnv(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !r.env.IsSet(f.Name) {
			return
		}
		if serr := fs.Set(f.Name, r.env.GetString(f.Name)); serr != nil {
			err = errors.Codef(errors.ErrUsage, "invalid value for %s: %s", f.Name, serr)
		}
	})
	return err
}

func (r *root) init(cmd *cobra.Command, _ []string) error {
	if err := r.applyEnv(cmd.Flags()); err != nil {
		return err
	}
	switch r.logFormat {
	case "text":
	case "json":
		r.log = log.NewZerolog(zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger())
	default:
		return errors.Codef(errors.ErrUsage, "unsupported log format: %s", r.logFormat)
	}
	r.log.SetOut(cmd.OutOrStdout())
	r.log.SetErr(cmd.ErrOrStderr())
	r.log.SetDebug(r.debug)

	r.log.Debug("Debug mode enabled")

	var err error
	if r.timeouts.Open, err = parseDuration(r.connectTimeout); err != nil {
		return err
	}
	if r.timeouts.Read, err = parseDuration(r.readTimeout); err != nil {
		return err
	}
	if r.retryDelayParsed, err = parseDuration(r.retryDelay); err != nil {
		return err
	}
	if r.retryTimeoutParsed, err = parseDuration(r.retryTimeout); err != nil {
		return err
	}

	if err := r.conf.Read(r.resolveHome(r.confFile), r.env, r.log); err != nil {
		return err
	}

	r.options = map[string]interface{}{}
	for k, v := range r.stringOptions {
		r.options[k] = v
	}
	for k, v := range r.boolOptions {
		switch strings.ToLower(v) {
		case "true", "t":
			r.options[k] = true
		case "false", "f":
			r.options[k] = false
		default:
			return errors.Codef(errors.ErrUsage, "invalid boolean value: %s", v)
		}
	}
	if len(r.options) > 0 {
		r.log.Debugf("Query options: %v", r.options)
	}
	return nil
}

// database returns a handle to the database named by dsn, merged with the
// current context.
func (r *root) database(dsn string) (*couchbulk.DB, error) {
	cx, err := r.conf.Resolve(dsn)
	if err != nil {
		return nil, err
	}
	name, err := cx.DB()
	if err != nil {
		return nil, err
	}
	client, err := cx.Client(r.timeouts, r.failSilent, r.log)
	if err != nil {
		return nil, err
	}
	r.log.Debugf("DSN: %s", cx)
	return client.DB(name), nil
}

func dsnArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

// transient reports whether err may succeed when retried.
func transient(err error) bool {
	switch errors.InspectErrorCode(err) {
	case errors.ErrUnavailable, errors.ErrTempFail, errors.ErrInternalServerError, errors.ErrUnknown:
		return true
	}
	return false
}

func (r *root) retry(fn func() error) error {
	if r.retryCount == 0 {
		return fn()
	}
	var bo backoff.BackOff
	switch {
	case r.retryDelayParsed == 0 && r.retryDelay != "": // Disables retry delay
		bo = &backoff.ZeroBackOff{}
	case r.retryDelayParsed != 0:
		bo = backoff.NewConstantBackOff(r.retryDelayParsed)
	default:
		bo = backoff.NewExponentialBackOff()
	}
	if r.retryCount >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.retryCount))
	}
	if r.retryTimeoutParsed > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), r.retryTimeoutParsed)
		defer cancel()
		bo = backoff.WithContext(bo, ctx)
	}
	var count int
	var err error
	return backoff.Retry(func() error {
		if count > 0 {
			msg := fmt.Sprintf("Warning: Transient problem: %s.", err)
			if remain := r.retryCount - count; remain > 0 {
				msg += fmt.Sprintf(" %d retries left.", remain)
			}
			r.log.Warn(msg)
		}
		count++
		err = fn()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
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

// opts returns the query options gathered from the command line.
func (r *root) opts() couchbulk.Option {
	return couchbulk.Params(r.options)
}
