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
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kivik/couchbulk/chttp"
)

// DB is a handle to a database. It is safe for concurrent use, but the
// paginators and bulk writers it returns are not.
type DB struct {
	client *Client
	name   string
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Client returns the client which created db.
func (db *DB) Client() *Client {
	return db.client
}

func (db *DB) path(parts ...string) string {
	return "/" + strings.Join(append([]string{url.PathEscape(db.name)}, parts...), "/")
}

func (db *DB) docPath(id string, parts ...string) string {
	return db.path(append([]string{chttp.EncodeDocID(id)}, parts...)...)
}

func (db *DB) viewPath(ddoc, view string) (string, error) {
	if ddoc == "" {
		return "", missingArg("ddoc")
	}
	if view == "" {
		return "", missingArg("view")
	}
	ddoc = strings.TrimPrefix(ddoc, "_design/")
	return db.path("_design", chttp.EncodeDocID(ddoc), "_view", chttp.EncodeDocID(view)), nil
}

func cloneParams(params url.Values) url.Values {
	clone := make(url.Values, len(params))
	for k, v := range params {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

func queryOptions(options []Option) *chttp.Options {
	params := url.Values{}
	allOptions(options).Apply(&params)
	return &chttp.Options{Query: params}
}

// Get fetches a single document. Non-2xx responses are always returned as
// an error.
func (db *DB) Get(ctx context.Context, id string, options ...Option) (Document, error) {
	if id == "" {
		return nil, missingArg("id")
	}
	var doc Document
	err := db.client.http.DoJSON(ctx, http.MethodGet, db.docPath(id), queryOptions(options), &doc)
	return doc, err
}

// GetRev returns the current revision of a document, as reported by the
// ETag header of a HEAD request.
func (db *DB) GetRev(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", missingArg("id")
	}
	resp, err := db.client.http.FetchStrict(ctx, http.MethodHead, db.docPath(id), nil)
	if err != nil {
		return "", err
	}
	rev, ok := chttp.ETag(resp.Header)
	if !ok {
		return "", &Error{Status: http.StatusBadGateway, Err: errors.New("couchbulk: response has no ETag")}
	}
	return rev, nil
}

// GetAttachment returns the raw content of a document attachment.
func (db *DB) GetAttachment(ctx context.Context, id, filename string) ([]byte, error) {
	if id == "" {
		return nil, missingArg("id")
	}
	if filename == "" {
		return nil, missingArg("filename")
	}
	resp, err := db.client.http.FetchStrict(ctx, http.MethodGet, db.docPath(id, chttp.EncodeDocID(filename)), &chttp.Options{
		Accept: "*/*",
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put creates or updates a single document, and returns its new revision.
func (db *DB) Put(ctx context.Context, id string, doc interface{}) (string, error) {
	if id == "" {
		return "", missingArg("id")
	}
	resp, err := db.client.http.FetchStrict(ctx, http.MethodPut, db.docPath(id), bodyOptions(doc))
	if err != nil {
		return "", err
	}
	var result struct {
		Rev string `json:"rev"`
	}
	if err := resp.Decode(&result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// AllDocsRows fetches a single page of _all_docs, with the given query
// parameters.
func (db *DB) AllDocsRows(ctx context.Context, options ...Option) (*ViewResult, error) {
	var result ViewResult
	err := db.client.http.DoJSON(ctx, http.MethodGet, db.path("_all_docs"), queryOptions(options), &result)
	if err != nil {
		return nil, err
	}
	observePage(strategySingle, len(result.Rows))
	return &result, nil
}

// Query fetches a single page of a view, with the given query parameters.
func (db *DB) Query(ctx context.Context, ddoc, view string, options ...Option) (*ViewResult, error) {
	path, err := db.viewPath(ddoc, view)
	if err != nil {
		return nil, err
	}
	var result ViewResult
	if err := db.client.http.DoJSON(ctx, http.MethodGet, path, queryOptions(options), &result); err != nil {
		return nil, err
	}
	observePage(strategySingle, len(result.Rows))
	return &result, nil
}
