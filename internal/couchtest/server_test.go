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

package couchtest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"gitlab.com/flimzy/testy"
)

func do(t *testing.T, s *Server, method, path string, body io.Reader) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var result map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&result)
	return resp.StatusCode, result
}

func rowIDs(t *testing.T, result map[string]interface{}) []string {
	t.Helper()
	rows, _ := result["rows"].([]interface{})
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id, _ := r.(map[string]interface{})["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func seeded(t *testing.T) *Server {
	t.Helper()
	s := New(t)
	s.Seed("db",
		map[string]interface{}{"_id": "hello1", "n": 1},
		map[string]interface{}{"_id": "hello2", "n": 2},
		map[string]interface{}{"_id": "hello3", "n": 3},
		map[string]interface{}{"_id": "gone", "_deleted": true},
	)
	return s
}

func TestAllDocs(t *testing.T) {
	type tt struct {
		query      string
		status     int
		want       []string
		wantOffset float64
	}

	tests := testy.NewTable()
	tests.Add("all", tt{
		status: http.StatusOK,
		want:   []string{"hello1", "hello2", "hello3"},
	})
	tests.Add("limit", tt{
		query:  "limit=2",
		status: http.StatusOK,
		want:   []string{"hello1", "hello2"},
	})
	tests.Add("skip", tt{
		query:      "skip=2",
		status:     http.StatusOK,
		want:       []string{"hello3"},
		wantOffset: 2,
	})
	tests.Add("continuation startkey", tt{
		query:      "startkey=" + url.QueryEscape(`"hello2`+"\ufff0"+`"`),
		status:     http.StatusOK,
		want:       []string{"hello3"},
		wantOffset: 2,
	})
	tests.Add("past the end", tt{
		query:      "startkey=" + url.QueryEscape(`"hello3`+"\ufff0"+`"`),
		status:     http.StatusOK,
		want:       []string{},
		wantOffset: 3,
	})
	tests.Add("endkey", tt{
		query:  "endkey=" + url.QueryEscape(`"hello2"`),
		status: http.StatusOK,
		want:   []string{"hello1", "hello2"},
	})
	tests.Add("invalid startkey", tt{
		query:  "startkey=hello",
		status: http.StatusBadRequest,
		want:   []string{},
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		s := seeded(t)
		status, result := do(t, s, http.MethodGet, "/db/_all_docs?"+tt.query, nil)
		if status != tt.status {
			t.Fatalf("Unexpected status: %d", status)
		}
		if d := testy.DiffInterface(tt.want, rowIDs(t, result)); d != nil {
			t.Error(d)
		}
		if status != http.StatusOK {
			return
		}
		if offset := result["offset"].(float64); offset != tt.wantOffset {
			t.Errorf("Unexpected offset: %v", offset)
		}
		if total := result["total_rows"].(float64); total != 3 {
			t.Errorf("Unexpected total_rows: %v", total)
		}
	})
}

func TestAllDocsKeys(t *testing.T) {
	s := seeded(t)
	_, result := do(t, s, http.MethodGet, "/db/_all_docs?keys="+url.QueryEscape(`["hello1","nope"]`), nil)
	want := []interface{}{
		map[string]interface{}{"id": "hello1", "key": "hello1", "value": map[string]interface{}{"rev": s.Doc("db", "hello1")["_rev"]}},
		map[string]interface{}{"key": "nope", "error": "not_found"},
	}
	if d := testy.DiffInterface(want, result["rows"]); d != nil {
		t.Error(d)
	}
}

func TestBulkDocs(t *testing.T) {
	s := seeded(t)
	rev := s.Doc("db", "hello1")["_rev"].(string)
	body := `{"docs":[{"_id":"new"},{"_id":"hello1","_rev":"` + rev + `","n":10},{"_id":"hello2","n":20},{"_id":"hello3","_rev":"` +
		s.Doc("db", "hello3")["_rev"].(string) + `","_deleted":true}]}`

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	_, _ = gz.Write([]byte(body))
	_ = gz.Close()
	req, _ := http.NewRequest(http.MethodPost, s.URL+"/db/_bulk_docs", buf)
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Unexpected status: %d", resp.StatusCode)
	}
	var results []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	var errs []string
	for _, r := range results {
		if e, ok := r["error"].(string); ok {
			errs = append(errs, r["id"].(string)+":"+e)
		}
	}
	if d := testy.DiffInterface([]string{"hello2:conflict"}, errs); d != nil {
		t.Error(d)
	}
	if n := s.DocCount("db"); n != 3 {
		t.Errorf("Unexpected doc count: %d", n)
	}
	if n := s.Doc("db", "hello1")["n"]; n != float64(10) {
		t.Errorf("Unexpected n: %v", n)
	}
	if doc := s.Doc("db", "hello3"); doc != nil {
		t.Errorf("hello3 should be deleted")
	}
	if got := s.Requests()[0].Body; string(got) != body {
		t.Errorf("Recorded body was not decompressed: %s", got)
	}
}

func TestView(t *testing.T) {
	s := seeded(t)
	s.AddView("db", "ddoc", "by_n", func(doc map[string]interface{}, emit func(key, value interface{})) {
		emit(doc["n"], nil)
	})
	status, result := do(t, s, http.MethodGet, "/db/_design/ddoc/_view/by_n?skip=1&limit=1", nil)
	if status != http.StatusOK {
		t.Fatalf("Unexpected status: %d", status)
	}
	if d := testy.DiffInterface([]string{"hello2"}, rowIDs(t, result)); d != nil {
		t.Error(d)
	}
	status, _ = do(t, s, http.MethodGet, "/db/_design/ddoc/_view/missing", nil)
	if status != http.StatusNotFound {
		t.Errorf("Unexpected status for missing view: %d", status)
	}
}

func TestDocuments(t *testing.T) {
	s := seeded(t)
	status, result := do(t, s, http.MethodPut, "/db/new", strings.NewReader(`{"foo":"bar"}`))
	if status != http.StatusCreated {
		t.Fatalf("Unexpected status: %d", status)
	}
	rev := result["rev"].(string)
	if !strings.HasPrefix(rev, "1-") {
		t.Errorf("Unexpected rev: %s", rev)
	}
	if status, _ := do(t, s, http.MethodPut, "/db/new", strings.NewReader(`{"foo":"baz"}`)); status != http.StatusConflict {
		t.Errorf("Expected conflict, got %d", status)
	}
	status, result = do(t, s, http.MethodGet, "/db/new", nil)
	if status != http.StatusOK || result["foo"] != "bar" || result["_rev"] != rev {
		t.Errorf("Unexpected document: %d %v", status, result)
	}
	if status, _ := do(t, s, http.MethodDelete, "/db/new?rev="+rev, nil); status != http.StatusOK {
		t.Errorf("Unexpected delete status: %d", status)
	}
	status, result = do(t, s, http.MethodGet, "/db/new", nil)
	if status != http.StatusNotFound || result["reason"] != "deleted" {
		t.Errorf("Unexpected result: %d %v", status, result)
	}
}

func TestDatabases(t *testing.T) {
	s := New(t)
	if status, _ := do(t, s, http.MethodPut, "/foo", nil); status != http.StatusCreated {
		t.Errorf("Unexpected create status: %d", status)
	}
	if status, _ := do(t, s, http.MethodPut, "/foo", nil); status != http.StatusPreconditionFailed {
		t.Errorf("Unexpected second create status: %d", status)
	}
	if !s.DBExists("foo") {
		t.Error("foo should exist")
	}
	if status, _ := do(t, s, http.MethodDelete, "/foo", nil); status != http.StatusOK {
		t.Errorf("Unexpected delete status: %d", status)
	}
	if status, _ := do(t, s, http.MethodGet, "/foo/_all_docs", nil); status != http.StatusNotFound {
		t.Errorf("Unexpected status for missing db: %d", status)
	}
}

func TestBasicAuth(t *testing.T) {
	s := New(t, WithBasicAuth("bob", "secret"))
	if status, _ := do(t, s, http.MethodGet, "/", nil); status != http.StatusUnauthorized {
		t.Errorf("Unexpected status without credentials: %d", status)
	}
	req, _ := http.NewRequest(http.MethodGet, s.URL+"/", nil)
	req.SetBasicAuth("bob", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Unexpected status with credentials: %d", resp.StatusCode)
	}
}
