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
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/couchbulk/internal/couchtest"
)

func TestCouchDBContainer(t *testing.T) {
	url := couchtest.StartCouchDB(t)
	c, _ := newTestClient(t, url, Config{
		Username: couchtest.ContainerUser,
		Password: couchtest.ContainerPassword,
	})
	ctx := context.Background()
	dbName := "couchbulk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := c.CreateDB(ctx, dbName); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.DestroyDB(context.Background(), dbName) })
	db := c.DB(dbName)

	docs := make([]interface{}, 0, 7)
	want := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("doc%03d", i)
		want = append(want, id)
		docs = append(docs, map[string]interface{}{"_id": id, "n": i})
	}
	stats, err := db.PostBulkThrottled(ctx, docs, MaxArrayLength(3))
	if err != nil {
		t.Fatal(err)
	}
	if d := testy.DiffInterface(BulkStats{Flushes: 3, Docs: 7}, stats); d != nil {
		t.Errorf("Unexpected stats:\n%s", d)
	}

	t.Run("all ids", func(t *testing.T) {
		ids, err := db.AllIDs(ctx, PageSize(2)).Collect()
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(want, ids); d != nil {
			t.Error(d)
		}
	})

	t.Run("view rows", func(t *testing.T) {
		if _, err := db.Put(ctx, "_design/test", map[string]interface{}{
			"views": map[string]interface{}{
				"byN": map[string]string{
					"map": "function(doc) { if (doc.n !== undefined) { emit(doc.n, null); } }",
				},
			},
		}); err != nil {
			t.Fatal(err)
		}
		rows, err := db.ViewRows(ctx, "test", "byN", PageSize(3)).Collect()
		if err != nil {
			t.Fatal(err)
		}
		got := make([]string, 0, len(rows))
		for _, row := range rows {
			got = append(got, row.ID)
		}
		if d := testy.DiffInterface(want, got); d != nil {
			t.Error(d)
		}
	})

	t.Run("conflicts are counted", func(t *testing.T) {
		result, err := db.PostBulk(ctx, map[string]interface{}{"_id": "doc000"}, map[string]interface{}{"_id": "new"})
		if err != nil {
			t.Fatal(err)
		}
		if result.Errors != 1 || result.Docs != 2 {
			t.Errorf("Unexpected result: %d docs, %d errors", result.Docs, result.Errors)
		}
	})
}
