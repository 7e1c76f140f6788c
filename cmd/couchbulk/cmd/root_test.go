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

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/config"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/internal/couchtest"
	"github.com/go-kivik/couchbulk/log"
)

type cmdTest struct {
	args   []string
	stdin  string
	status int
	// stdout, if set, must match the standard output exactly.
	stdout string
	check  func(t *testing.T, stdout, stderr string)
}

func (tt *cmdTest) Test(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvPrefix+"_DSN", "")
	root := rootCmd(log.New())
	root.resolveHome = func(i string) string { return i }

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	args := tt.args
	if args == nil {
		args = []string{}
	}
	root.cmd.SetArgs(args)
	root.cmd.SetIn(strings.NewReader(tt.stdin))
	root.cmd.SetOut(stdout)
	root.cmd.SetErr(stderr)
	status := root.execute(context.Background())
	if tt.status != status {
		t.Errorf("Unexpected exit status. Want %d, got %d\nSTDERR: %s", tt.status, status, stderr)
	}
	if tt.stdout != "" {
		if d := testy.DiffText(tt.stdout, stdout.String()); d != nil {
			t.Errorf("STDOUT: %s", d)
		}
	}
	if tt.check != nil {
		tt.check(t, stdout.String(), stderr.String())
	}
}

// seedDocs stores n documents, doc000 to docNNN, in the named database.
func seedDocs(s *couchtest.Server, dbName string, n int) {
	docs := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, map[string]interface{}{"_id": fmt.Sprintf("doc%03d", i), "n": i})
	}
	s.Seed(dbName, docs...)
}

// failRequest returns a server in front of s which answers the nth request
// with status, and forwards all others.
func failRequest(t *testing.T, s *couchtest.Server, n int32, status int) *httptest.Server {
	t.Helper()
	var count int32
	h := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) == n {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":"failed","reason":"request %d failed"}`, n)
			return
		}
		s.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(h.Close)
	return h
}

func countLines(s, substr string) int {
	var n int
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func Test_root_RunE(t *testing.T) {
	tests := testy.NewTable()
	tests.Add("no command", cmdTest{
		check: func(t *testing.T, stdout, _ string) {
			if !strings.Contains(stdout, "Available Commands:") {
				t.Errorf("Expected help output, got: %s", stdout)
			}
		},
	})
	tests.Add("unknown flag", cmdTest{
		args:   []string{"--bogus"},
		status: errors.ErrUsage,
	})
	tests.Add("unknown command", cmdTest{
		args:   []string{"bogus"},
		status: errors.ErrUsage,
	})
	tests.Add("invalid log format", cmdTest{
		args:   []string{"--log-format", "xml", "version"},
		status: errors.ErrUsage,
		check: func(t *testing.T, _, stderr string) {
			if !strings.Contains(stderr, "unsupported log format: xml") {
				t.Errorf("Unexpected stderr: %s", stderr)
			}
		},
	})
	tests.Add("invalid timeout", cmdTest{
		args:   []string{"--read-timeout", "-78", "version"},
		status: errors.ErrUsage,
	})
	tests.Add("connect timeout invalid", cmdTest{
		args:   []string{"--connect-timeout", "oink", "version"},
		status: errors.ErrUsage,
	})
	tests.Add("retry delay invalid", cmdTest{
		args:   []string{"--retry", "3", "--retry-delay", "oink", "version"},
		status: errors.ErrUsage,
	})
	tests.Add("invalid boolean option", cmdTest{
		args:   []string{"-B", "descending=maybe", "version"},
		status: errors.ErrUsage,
	})
	tests.Add("invalid config file", func(t *testing.T) interface{} {
		path := filepath.Join(t.TempDir(), "config")
		if err := os.WriteFile(path, []byte("- ["), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args:   []string{"--config", path, "version"},
			status: errors.ErrUsage,
		}
	})
	tests.Add("no server", cmdTest{
		args:   []string{"dump"},
		status: errors.ErrUsage,
	})
	tests.Add("connection refused", cmdTest{
		args:   []string{"dump", "http://127.0.0.1:1/db"},
		status: errors.ErrUnavailable,
	})
	tests.Add("retry", cmdTest{
		args:   []string{"--retry", "2", "--retry-delay", "0", "dump", "http://127.0.0.1:1/db"},
		status: errors.ErrUnavailable,
		check: func(t *testing.T, _, stderr string) {
			if n := countLines(stderr, "Warning: Transient problem"); n != 2 {
				t.Errorf("Expected 2 retry warnings, got %d:\n%s", n, stderr)
			}
			if !strings.Contains(stderr, "1 retries left.") {
				t.Errorf("Unexpected stderr: %s", stderr)
			}
		},
	})
	tests.Add("retry max time", cmdTest{
		args:   []string{"--retry", "100", "--retry-delay", "40ms", "--retry-timeout", "100ms", "dump", "http://127.0.0.1:1/db"},
		status: errors.ErrUnavailable,
	})
	tests.Add("retry recovers", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		seedDocs(s, "db", 3)
		flaky := failRequest(t, s, 1, http.StatusInternalServerError)
		return cmdTest{
			args:   []string{"--retry", "1", "--retry-delay", "0", "dump", "--ids", flaky.URL + "/db"},
			stdout: "\"doc000\"\n\"doc001\"\n\"doc002\"\n",
		}
	})
	tests.Add("no retry on client error", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		seedDocs(s, "db", 3)
		flaky := failRequest(t, s, 1, http.StatusBadRequest)
		return cmdTest{
			args:   []string{"--retry", "3", "--retry-delay", "0", "dump", "--ids", flaky.URL + "/db"},
			status: errors.ErrBadRequest,
			check: func(t *testing.T, _, stderr string) {
				if strings.Contains(stderr, "Transient problem") {
					t.Errorf("Unexpected retry: %s", stderr)
				}
			},
		}
	})
	tests.Add("read timeout", func(t *testing.T) interface{} {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(slow.Close)
		return cmdTest{
			args:   []string{"--read-timeout", "50ms", "dump", slow.URL + "/db"},
			status: errors.ErrTempFail,
		}
	})
	tests.Add("debug", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		seedDocs(s, "db", 1)
		return cmdTest{
			args: []string{"--debug", "-O", "foo=bar", "dump", "--ids", s.URL + "/db"},
			check: func(t *testing.T, _, stderr string) {
				if !strings.Contains(stderr, "Debug mode enabled") {
					t.Errorf("Unexpected stderr: %s", stderr)
				}
				if !strings.Contains(stderr, "Query options: map[foo:bar]") {
					t.Errorf("Unexpected stderr: %s", stderr)
				}
			},
		}
	})
	tests.Add("context from config file", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		seedDocs(s, "db", 2)
		path := filepath.Join(t.TempDir(), "config")
		conf := "current-context: local\ncontexts:\n  local:\n    dsn: " + s.URL + "/\n"
		if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args:   []string{"--config", path, "dump", "--ids", "db"},
			stdout: "\"doc000\"\n\"doc001\"\n",
		}
	})

	tests.Run(t, func(t *testing.T, tt cmdTest) {
		tt.Test(t)
	})
}

func Test_root_env(t *testing.T) {
	s := couchtest.New(t)
	seedDocs(s, "db", 5)
	t.Setenv(config.EnvPrefix+"_PAGE_SIZE", "2")
	t.Setenv(config.EnvPrefix+"_FORMAT", "yaml")

	tt := cmdTest{
		args:   []string{"dump", "--ids", s.URL + "/db"},
		stdout: "doc000\n---\ndoc001\n---\ndoc002\n---\ndoc003\n---\ndoc004\n",
	}
	tt.Test(t)
	if n := len(s.Requests()); n != 4 {
		t.Errorf("Expected 4 requests, got %d", n)
	}
}

func Test_root_envDSN(t *testing.T) {
	s := couchtest.New(t)
	seedDocs(s, "db", 1)

	root := rootCmd(log.New())
	root.resolveHome = func(i string) string { return i }
	t.Setenv(config.EnvPrefix+"_DSN", s.URL+"/db")
	stdout := &bytes.Buffer{}
	root.cmd.SetArgs([]string{"dump", "--ids"})
	root.cmd.SetOut(stdout)
	root.cmd.SetErr(&bytes.Buffer{})
	if status := root.execute(context.Background()); status != 0 {
		t.Fatalf("Unexpected exit status: %d", status)
	}
	if d := testy.DiffText("\"doc000\"\n", stdout.String()); d != nil {
		t.Error(d)
	}
}

func Test_parseDuration(t *testing.T) {
	type tt struct {
		input string
		want  time.Duration
		err   string
	}

	tests := testy.NewTable()
	tests.Add("empty", tt{})
	tests.Add("invalid", tt{
		input: "bogus",
		err:   `time: invalid duration "bogus"`,
	})
	tests.Add("seconds", tt{
		input: "3",
		want:  3 * time.Second,
	})
	tests.Add("fractional seconds", tt{
		input: "1.5",
		want:  1500 * time.Millisecond,
	})
	tests.Add("duration", tt{
		input: "2m",
		want:  2 * time.Minute,
	})
	tests.Add("negative seconds", tt{
		input: "-3",
		err:   "negative timeout not permitted",
	})
	tests.Add("negative duration", tt{
		input: "-3s",
		err:   "negative timeout not permitted",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		got, err := parseDuration(tt.input)
		if got != tt.want {
			t.Errorf("Unexpected result: %s", got)
		}
		if !testy.ErrorMatches(tt.err, err) {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func Test_fmtDuration(t *testing.T) {
	tests := map[time.Duration]string{
		1500 * time.Millisecond:                            "1.50s",
		90 * time.Second:                                   "1m30s",
		2*time.Hour + 5*time.Minute:                        "2h5m",
		50*time.Hour + 3*time.Minute + 20*time.Millisecond: "2d2h3m",
	}
	for dur, want := range tests {
		if got := fmtDuration(dur); got != want {
			t.Errorf("%v: want %s, got %s", dur, want, got)
		}
	}
}

func Test_resolveHome(t *testing.T) {
	usr, err := user.Current()
	if err != nil {
		t.Skip(err)
	}
	if got, want := resolveHome("~/.couchbulk/config"), filepath.Join(usr.HomeDir, ".couchbulk/config"); got != want {
		t.Errorf("Unexpected path: %s", got)
	}
	if got := resolveHome("/etc/couchbulk"); got != "/etc/couchbulk" {
		t.Errorf("Unexpected path: %s", got)
	}
}

func Test_transient(t *testing.T) {
	tests := map[int]bool{
		errors.ErrUnavailable:         true,
		errors.ErrTempFail:            true,
		errors.ErrInternalServerError: true,
		errors.ErrNotFound:            false,
		errors.ErrConflict:            false,
		errors.ErrUsage:               false,
	}
	for code, want := range tests {
		if got := transient(errors.Code(code, "failure")); got != want {
			t.Errorf("%d: want %t, got %t", code, want, got)
		}
	}
}
