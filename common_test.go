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

package couchbulk

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kivik/couchbulk/internal/couchtest"
	"github.com/go-kivik/couchbulk/log"
)

// newTestClient returns a client for url, logging to a test logger unless
// cfg supplies a logger.
func newTestClient(t *testing.T, url string, cfg Config) (*Client, *log.TestLogger) {
	t.Helper()
	logger := log.NewTest()
	cfg.URL = url
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c, logger
}

// newHandlerClient returns a client talking to handler.
func newHandlerClient(t *testing.T, cfg Config, handler http.HandlerFunc) (*Client, *log.TestLogger) {
	t.Helper()
	s := httptest.NewServer(handler)
	t.Cleanup(s.Close)
	return newTestClient(t, s.URL, cfg)
}

// seedHello stores documents hello1 to helloN in dbName. N must be below 10,
// so that IDs sort in numeric order.
func seedHello(s *couchtest.Server, dbName string, n int) {
	docs := make([]map[string]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, map[string]interface{}{
			"_id": fmt.Sprintf("hello%d", i),
			"n":   i,
		})
	}
	s.Seed(dbName, docs...)
}

// seedDocs stores n documents with fixed-width IDs doc000 upward.
func seedDocs(s *couchtest.Server, dbName string, n int) []string {
	ids := make([]string, 0, n)
	docs := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc%03d", i)
		ids = append(ids, id)
		docs = append(docs, map[string]interface{}{"_id": id, "n": i})
	}
	s.Seed(dbName, docs...)
	return ids
}

func docIDs(docs []Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	return ids
}

// queries returns the value of key in each recorded request, in order.
func queries(s *couchtest.Server, key string) []string {
	var values []string
	for _, req := range s.Requests() {
		values = append(values, req.Query().Get(key))
	}
	return values
}
