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
	"net/http"
	"strconv"

	"github.com/go-kivik/couchbulk/chttp"
)

const (
	// DefaultViewRowsPageSize is the default page size of [DB.ViewRows].
	DefaultViewRowsPageSize = 500
	// DefaultViewDocsPageSize is the default page size of [DB.ViewDocs].
	DefaultViewDocsPageSize = 750
)

// offsetPager walks a view with skip/limit. Each request makes the server
// re-scan offset rows, so cost grows quadratically with the view size.
type offsetPager struct {
	db     *DB
	path   string
	opts   *pageOptions
	offset int
}

func newOffsetPager(db *DB, path string, opts *pageOptions) (*offsetPager, error) {
	p := &offsetPager{
		db:   db,
		path: path,
		opts: opts,
	}
	if skip := opts.params.Get("skip"); skip != "" {
		n, err := strconv.Atoi(skip)
		if err != nil || n < 0 {
			return nil, badRequest("couchbulk: invalid skip: " + skip)
		}
		p.offset = n
	}
	return p, nil
}

func (p *offsetPager) next(ctx context.Context) ([]Row, bool, error) {
	params := cloneParams(p.opts.params)
	params.Set("limit", strconv.Itoa(p.opts.limit))
	params.Set("skip", strconv.Itoa(p.offset))
	var result ViewResult
	err := p.db.client.http.DoJSON(ctx, http.MethodGet, p.path, &chttp.Options{Query: params}, &result)
	if err != nil {
		return nil, false, err
	}
	observePage(strategyOffset, len(result.Rows))
	if len(result.Rows) == 0 {
		return nil, true, nil
	}
	p.offset += p.opts.limit
	p.db.client.log.Debugf("%s: %d rows, next skip=%d", p.path, len(result.Rows), p.offset)
	return result.Rows, false, nil
}

func offsetPages[T any](ctx context.Context, db *DB, path string, opts *pageOptions, convert func([]Row) []T) *Pages[T] {
	if err := checkPageSize(opts.limit); err != nil {
		return errPages[T](err)
	}
	p, err := newOffsetPager(db, path, opts)
	if err != nil {
		return errPages[T](err)
	}
	return newPages(ctx, func(ctx context.Context) ([]T, bool, error) {
		for {
			rows, done, err := p.next(ctx)
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

// ViewRows streams the rows of a view, one page at a time, using skip and
// limit. The default page size is 500. A skip parameter sets the starting
// offset.
func (db *DB) ViewRows(ctx context.Context, ddoc, view string, options ...Option) *Pages[Row] {
	path, err := db.viewPath(ddoc, view)
	if err != nil {
		return errPages[Row](err)
	}
	opts := newPageOptions(DefaultViewRowsPageSize, options)
	return offsetPages(ctx, db, path, opts, func(rows []Row) []Row { return rows })
}

// ViewDocs streams the documents emitted by a view, one page at a time, using
// skip and limit with include_docs=true. The default page size is 750.
func (db *DB) ViewDocs(ctx context.Context, ddoc, view string, options ...Option) *Pages[Document] {
	path, err := db.viewPath(ddoc, view)
	if err != nil {
		return errPages[Document](err)
	}
	opts := newPageOptions(DefaultViewDocsPageSize, options)
	opts.params.Set("include_docs", "true")
	return offsetPages(ctx, db, path, opts, db.rowDocs)
}
