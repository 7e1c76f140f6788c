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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/internal/couchtest"
)

func Test_load_RunE(t *testing.T) {
	tests := testy.NewTable()
	tests.Add("no input", cmdTest{
		args:   []string{"load", "http://127.0.0.1:1/db"},
		status: errors.ErrUsage,
	})
	tests.Add("ndjson from stdin", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		return cmdTest{
			args:   []string{"load", "-D", "-", "--max-array-length", "2", s.URL + "/db"},
			stdin:  `{"_id":"a"}` + "\n" + `{"_id":"b"}` + "\n" + `{"_id":"c"}` + "\n" + `{"_id":"d"}` + "\n" + `{"_id":"e","n":5}` + "\n",
			stdout: "Loaded 5 documents in 3 requests, 0 errors\n",
			check: func(t *testing.T, _, _ string) {
				if n := s.DocCount("db"); n != 5 {
					t.Errorf("Unexpected doc count: %d", n)
				}
				if n := s.Doc("db", "e")["n"]; n != float64(5) {
					t.Errorf("Unexpected n: %v", n)
				}
				var bulk int
				for _, r := range s.Requests() {
					if strings.HasSuffix(r.Path, "/_bulk_docs") {
						bulk++
					}
				}
				if bulk != 3 {
					t.Errorf("Unexpected bulk requests: %d", bulk)
				}
			},
		}
	})
	tests.Add("flush size", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		return cmdTest{
			args:   []string{"load", "-d", `[{"_id":"a","v":"xxxxxxxxxx"},{"_id":"b","v":"xxxxxxxxxx"}]`, "--flush-size-mb", "0.00002", s.URL + "/db"},
			stdout: "Loaded 2 documents in 2 requests, 0 errors\n",
		}
	})
	tests.Add("yaml file", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		path := filepath.Join(t.TempDir(), "docs.yaml")
		if err := os.WriteFile(path, []byte("_id: a\ntags: [x, y]\n---\n- _id: b\n- _id: c\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args:   []string{"load", "-D", path, s.URL + "/db"},
			stdout: "Loaded 3 documents in 1 requests, 0 errors\n",
			check: func(t *testing.T, _, _ string) {
				if d := testy.DiffInterface([]interface{}{"x", "y"}, s.Doc("db", "a")["tags"]); d != nil {
					t.Error(d)
				}
			},
		}
	})
	tests.Add("conflicts", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.Seed("db", map[string]interface{}{"_id": "a"})
		return cmdTest{
			args:   []string{"load", "-d", `{"_id":"a"} {"_id":"b"}`, s.URL + "/db"},
			stdout: "Loaded 2 documents in 1 requests, 1 errors\n",
			check: func(t *testing.T, _, stderr string) {
				if !strings.Contains(stderr, "Bulk request completed with 1 errors") {
					t.Errorf("Unexpected stderr: %s", stderr)
				}
			},
		}
	})
	tests.Add("assign ids", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		return cmdTest{
			args:   []string{"load", "--assign-ids", "-d", `{"n":1} {"n":2}`, s.URL + "/db"},
			stdout: "Loaded 2 documents in 1 requests, 0 errors\n",
			check: func(t *testing.T, _, _ string) {
				if n := s.DocCount("db"); n != 2 {
					t.Errorf("Unexpected doc count: %d", n)
				}
			},
		}
	})
	tests.Add("invalid document", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		return cmdTest{
			args:   []string{"load", "-d", `{"_id":"a"} 42`, s.URL + "/db"},
			status: errors.ErrData,
			stdout: "Loaded 1 documents in 1 requests, 0 errors\n",
			check: func(t *testing.T, _, _ string) {
				if s.Doc("db", "a") == nil {
					t.Error("Documents read before the failure should be written")
				}
			},
		}
	})
	tests.Add("missing file", cmdTest{
		args:   []string{"load", "-D", "does-not-exist.json", "http://127.0.0.1:1/db"},
		status: errors.ErrNoInput,
	})
	tests.Add("invalid flush size", cmdTest{
		args:   []string{"load", "-d", `{}`, "--flush-size-mb", "-1", "http://127.0.0.1:1/db"},
		status: errors.ErrUsage,
	})
	tests.Add("missing database", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		return cmdTest{
			args:   []string{"load", "-d", `{"_id":"a"}`, s.URL + "/nope"},
			status: errors.ErrNotFound,
			stdout: "Loaded 0 documents in 0 requests, 0 errors\n",
		}
	})
	tests.Add("missing database, fail silent", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		return cmdTest{
			args:   []string{"--fail-silent", "load", "-d", `{"_id":"a"}`, s.URL + "/nope"},
			stdout: "Loaded 1 documents in 1 requests, 0 errors\n",
			check: func(t *testing.T, _, stderr string) {
				if !strings.Contains(stderr, "Bulk request failed with status 404") {
					t.Errorf("Unexpected stderr: %s", stderr)
				}
			},
		}
	})
	tests.Add("json log format", func(t *testing.T) interface{} {
		s := couchtest.New(t)
		s.CreateDB("db")
		return cmdTest{
			args: []string{"--log-format", "json", "load", "-d", `{"_id":"a"}`, s.URL + "/db"},
			check: func(t *testing.T, stdout, _ string) {
				if !strings.Contains(stdout, `"level":"info"`) || !strings.Contains(stdout, `"message":"Loaded 1 documents in 1 requests, 0 errors"`) {
					t.Errorf("Unexpected stdout: %s", stdout)
				}
			},
		}
	})

	tests.Run(t, func(t *testing.T, tt cmdTest) {
		tt.Test(t)
	})
}
