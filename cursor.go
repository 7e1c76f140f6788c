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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kivik/couchbulk/chttp"
)

// Paginator strategies, as used in metric labels.
const (
	strategyCursor = "cursor"
	strategyOffset = "offset"
	strategySingle = "single"
)

const (
	// DefaultAllDocsPageSize is the default page size of [DB.AllDocs].
	DefaultAllDocsPageSize = 750
	// DefaultAllIDsPageSize is the default page size of [DB.AllIDs].
	DefaultAllIDsPageSize = 500
)

// sentinel is a code point assumed to sort after any character found in a
// real document ID. Appending it to an ID yields a key which sorts after that
// ID, and after every ID which extends it. A cursor scan therefore assumes
// that no document ID is a strict prefix of another (as with fixed-length
// UUIDs), and that no ID contains the sentinel. IDs breaking the first
// assumption are skipped; IDs breaking the second give undefined results.
const sentinel = '\uFFF0'

// ContinuationKey returns the JSON-encoded startkey which resumes an _all_docs
// scan immediately after lastID. The sentinel is written as the escape
// sequence \ufff0, so the key is plain ASCII apart from lastID itself.
func ContinuationKey(lastID string) string {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(lastID)
	quoted := strings.TrimSuffix(strings.TrimSpace(buf.String()), `"`)
	return quoted + `\ufff0"`
}

// cursor walks _all_docs by key continuation. Termination and continuation
// are driven by the raw rows, before any filtering.
type cursor struct {
	db      *DB
	path    string
	opts    *pageOptions
	lastID  string
	started bool
}

func newCursor(db *DB, path string, opts *pageOptions) *cursor {
	c := &cursor{
		db:   db,
		path: path,
		opts: opts,
	}
	if opts.startAfter != "" {
		c.started = true
		c.lastID = opts.startAfter
	}
	return c
}

func (c *cursor) next(ctx context.Context) ([]Row, bool, error) {
	params := cloneParams(c.opts.params)
	params.Set("limit", strconv.Itoa(c.opts.limit))
	if c.started {
		params.Del("start_key")
		params.Del("skip")
		params.Set("startkey", ContinuationKey(c.lastID))
	}
	var result ViewResult
	err := c.db.client.http.DoJSON(ctx, http.MethodGet, c.path, &chttp.Options{Query: params}, &result)
	if err != nil {
		return nil, false, err
	}
	observePage(strategyCursor, len(result.Rows))
	if len(result.Rows) == 0 {
		return nil, true, nil
	}
	c.started = true
	c.lastID = result.Rows[len(result.Rows)-1].continuationID()
	c.db.client.log.Debugf("%s: %d rows, continuing after %q", c.path, len(result.Rows), c.lastID)
	if strings.ContainsRune(c.lastID, sentinel) {
		c.db.client.log.Warnf("document ID %q contains U+FFF0; pagination may skip or repeat documents", c.lastID)
	}
	return result.Rows, false, nil
}

// cursorPages returns a Pages which converts each raw page with convert.
// Pages which convert to nothing are not dispatched, but do not end the
// stream.
func cursorPages[T any](ctx context.Context, db *DB, path string, opts *pageOptions, convert func([]Row) []T) *Pages[T] {
	if err := checkPageSize(opts.limit); err != nil {
		return errPages[T](err)
	}
	if descending, _ := strconv.ParseBool(opts.params.Get("descending")); descending {
		return errPages[T](badRequest("couchbulk: descending order is not supported by key continuation"))
	}
	c := newCursor(db, path, opts)
	return newPages(ctx, func(ctx context.Context) ([]T, bool, error) {
		for {
			rows, done, err := c.next(ctx)
			if err != nil || done {
				return nil, done, err
			}
			if items := convert(rows); len(items) > 0 {
				return items, false, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}
	})
}

// AllDocs streams every document in the database, in _id order, one page at
// a time. The default page size is 750. Each page is requested with
// include_docs=true, and startkey set just past the last _id of the previous
// page. startkey and skip parameters apply to the first page only.
func (db *DB) AllDocs(ctx context.Context, options ...Option) *Pages[Document] {
	opts := newPageOptions(DefaultAllDocsPageSize, options)
	opts.params.Set("include_docs", "true")
	return cursorPages(ctx, db, db.path("_all_docs"), opts, db.rowDocs)
}

// AllIDs streams the _id of every document in the database, in order, one
// page at a time. The default page size is 500. Rows reporting an error are
// logged and excluded.
func (db *DB) AllIDs(ctx context.Context, options ...Option) *Pages[string] {
	opts := newPageOptions(DefaultAllIDsPageSize, options)
	return cursorPages(ctx, db, db.path("_all_docs"), opts, db.rowIDs)
}

func (db *DB) rowIDs(rows []Row) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if db.skipErrorRow(row) {
			continue
		}
		ids = append(ids, row.ID)
	}
	return ids
}

func (db *DB) rowDocs(rows []Row) []Document {
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		if db.skipErrorRow(row) {
			continue
		}
		if row.Doc == nil {
			db.client.log.Debugf("row %q has no document", row.ID)
			continue
		}
		docs = append(docs, row.Doc)
	}
	return docs
}

// skipErrorRow logs and reports rows which carry an error instead of data.
func (db *DB) skipErrorRow(row Row) bool {
	if row.Error == "" {
		return false
	}
	db.client.log.Warnf("%s: %s", row.continuationID(), row.Error)
	if row.Reason != "" {
		db.client.log.Warn(row.Reason)
	}
	return true
}
