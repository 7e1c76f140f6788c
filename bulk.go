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
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/go-kivik/couchbulk/chttp"
)

// BulkResult is the outcome of a single _bulk_docs request.
type BulkResult struct {
	// Status, Header and Body are those of the HTTP response.
	Status int
	Header http.Header
	Body   []byte

	// Docs is the number of documents sent.
	Docs int

	// Errors is the number of documents the server rejected.
	Errors int
}

// OK returns true if the request succeeded, and no document was rejected.
func (r *BulkResult) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.Errors == 0
}

// DocResult is the per-document outcome of a bulk request.
type DocResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Err returns an error describing a rejected document, or nil.
func (r DocResult) Err() error {
	switch r.Error {
	case "":
		return nil
	case "conflict":
		return &Error{Status: http.StatusConflict, Message: r.ID, Err: errors.New(r.Reason)}
	case "forbidden":
		return &Error{Status: http.StatusForbidden, Message: r.ID, Err: errors.New(r.Reason)}
	case "unauthorized":
		return &Error{Status: http.StatusUnauthorized, Message: r.ID, Err: errors.New(r.Reason)}
	}
	return &Error{Status: http.StatusInternalServerError, Message: r.ID, Err: errors.New(r.Error + ": " + r.Reason)}
}

// Results decodes the per-document results from the response body.
func (r *BulkResult) Results() ([]DocResult, error) {
	var results []DocResult
	if err := json.Unmarshal(r.Body, &results); err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Err: err}
	}
	return results, nil
}

// countErrors returns the number of result entries carrying an error field.
// A body which is not an array counts as zero.
func countErrors(body []byte) int {
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return 0
	}
	var n int
	res.ForEach(func(_, v gjson.Result) bool {
		if v.Get("error").Exists() {
			n++
		}
		return true
	})
	return n
}

// encodeDoc returns the JSON encoding of doc, which must be an object. Raw
// JSON input is copied.
func encodeDoc(doc interface{}) (json.RawMessage, error) {
	var raw []byte
	switch t := doc.(type) {
	case json.RawMessage:
		raw = append([]byte(nil), t...)
	case []byte:
		raw = append([]byte(nil), t...)
	default:
		var err error
		raw, err = json.Marshal(doc)
		if err != nil {
			return nil, &Error{Status: http.StatusBadRequest, Err: err}
		}
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, badRequest("couchbulk: document must be a JSON object")
	}
	return raw, nil
}

func bulkBody(docs []json.RawMessage) []byte {
	buf := bytes.NewBufferString(`{"docs":[`)
	for i, doc := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(doc)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// arraySize returns the size of the JSON array holding docs whose encoded
// lengths sum to total.
func arraySize(n int, total int64) int64 {
	size := total + 2 // nolint:gomnd
	if n > 1 {
		size += int64(n - 1)
	}
	return size
}

// postBulk sends docs in a single _bulk_docs request. 417 responses, and any
// non-2xx response in fail-silent mode, are returned as results rather than
// errors.
func (db *DB) postBulk(ctx context.Context, docs []json.RawMessage) (*BulkResult, error) {
	body := bulkBody(docs)
	resp, err := db.client.http.FetchStrict(ctx, http.MethodPost, db.path("_bulk_docs"), &chttp.Options{
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	})
	if err != nil {
		if resp == nil || (resp.Status != http.StatusExpectationFailed && !db.client.conf.FailSilent) {
			observeBulk(nil, err)
			return nil, err
		}
	}
	result := &BulkResult{
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
		Docs:   len(docs),
		Errors: countErrors(resp.Body),
	}
	if result.Errors > 0 {
		db.client.log.Warnf("Bulk request completed with %d errors", result.Errors)
	}
	observeBulk(result, nil)
	return result, nil
}

func encodeDocs(docs []interface{}) ([]json.RawMessage, error) {
	raws := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := encodeDoc(doc)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// PostBulk writes docs in a single, unchunked, _bulk_docs request.
// Per-document failures are counted in the result, and logged, but are not
// returned as an error.
func (db *DB) PostBulk(ctx context.Context, docs ...interface{}) (*BulkResult, error) {
	raws, err := encodeDocs(docs)
	if err != nil {
		return nil, err
	}
	return db.postBulk(ctx, raws)
}

// BulkDelete deletes docs in a single, unchunked, _bulk_docs request. Each
// document must carry _id and _rev. The caller's documents are not modified;
// _deleted is set on an encoded copy. Callers with many documents should
// split them into chunks.
func (db *DB) BulkDelete(ctx context.Context, docs ...interface{}) (*BulkResult, error) {
	raws, err := encodeDocs(docs)
	if err != nil {
		return nil, err
	}
	for i, raw := range raws {
		raws[i], err = sjson.SetBytes(raw, "_deleted", true)
		if err != nil {
			return nil, &Error{Status: http.StatusBadRequest, Err: err}
		}
	}
	return db.postBulk(ctx, raws)
}

// PostBulkIfFull writes docs only if they exceed the flush thresholds of the
// client, or of the given options. The documents are then written through a
// [BulkWriter], so that no request exceeds the thresholds. It returns nil
// stats if nothing was written, in which case the caller should keep
// accumulating documents.
func (db *DB) PostBulkIfFull(ctx context.Context, docs []interface{}, options ...Option) (*BulkStats, error) {
	opts, err := db.bulkOptions(options)
	if err != nil {
		return nil, err
	}
	raws, err := encodeDocs(docs)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, raw := range raws {
		total += int64(len(raw))
	}
	if arraySize(len(raws), total) <= opts.flushBytes && len(raws) < opts.maxArrayLength {
		return nil, nil
	}
	encoded := make([]interface{}, len(raws))
	for i, raw := range raws {
		encoded[i] = raw
	}
	stats, err := (&BulkWriter{db: db, opts: opts}).writeAll(ctx, encoded)
	return &stats, err
}

// PostBulkThrottled writes docs through a [BulkWriter], and flushes the
// remainder.
func (db *DB) PostBulkThrottled(ctx context.Context, docs []interface{}, options ...Option) (BulkStats, error) {
	w, err := db.BulkWriter(options...)
	if err != nil {
		return BulkStats{}, err
	}
	return w.writeAll(ctx, docs)
}

func (db *DB) bulkOptions(options []Option) (*bulkOptions, error) {
	opts := &bulkOptions{
		flushBytes:     flushBytes(db.client.conf.FlushSizeMB),
		maxArrayLength: db.client.conf.MaxArrayLength,
	}
	allOptions(options).Apply(opts)
	if opts.flushBytes <= 0 {
		return nil, badRequest("couchbulk: flush size must be greater than zero")
	}
	if opts.maxArrayLength <= 0 {
		return nil, badRequest("couchbulk: max array length must be greater than zero")
	}
	return opts, nil
}

// BulkStats summarizes the work done by a [BulkWriter].
type BulkStats struct {
	// Flushes is the number of bulk requests which returned a response.
	Flushes int
	// Docs is the number of documents sent.
	Docs int
	// Errors is the number of documents rejected by the server.
	Errors int
}

// BulkWriter accumulates documents, and writes them with _bulk_docs once the
// batch exceeds the flush size, or reaches the maximum array length. The
// caller must call Flush to write the final partial batch; nothing is
// written implicitly.
type BulkWriter struct {
	db   *DB
	opts *bulkOptions

	mu    sync.Mutex
	docs  []json.RawMessage
	total int64
	stats BulkStats
}

// BulkWriter returns a new bulk writer. Thresholds default to
// [Config.FlushSizeMB] and [Config.MaxArrayLength], and may be overridden
// with [FlushSizeMB], [FlushSizeBytes] and [MaxArrayLength].
func (db *DB) BulkWriter(options ...Option) (*BulkWriter, error) {
	opts, err := db.bulkOptions(options)
	if err != nil {
		return nil, err
	}
	return &BulkWriter{
		db:   db,
		opts: opts,
	}, nil
}

// Append encodes doc and adds it to the batch. If the batch is then larger
// than the flush size, or holds the maximum number of documents, it is
// flushed before Append returns, and any flush error is returned.
func (w *BulkWriter) Append(ctx context.Context, doc interface{}) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if w.opts.assignIDs && !gjson.GetBytes(raw, "_id").Exists() {
		raw, err = sjson.SetBytes(raw, "_id", uuid.NewString())
		if err != nil {
			return &Error{Status: http.StatusBadRequest, Err: err}
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs = append(w.docs, raw)
	w.total += int64(len(raw))
	if w.fullLocked() {
		return w.flushLocked(ctx)
	}
	return nil
}

func (w *BulkWriter) fullLocked() bool {
	return arraySize(len(w.docs), w.total) > w.opts.flushBytes ||
		len(w.docs) >= w.opts.maxArrayLength
}

// Flush writes any pending documents. It is a no-op if the batch is empty.
// The batch is cleared whether or not the request succeeds.
func (w *BulkWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BulkWriter) flushLocked(ctx context.Context) error {
	if len(w.docs) == 0 {
		return nil
	}
	docs := w.docs
	w.docs = nil
	w.total = 0
	result, err := w.db.postBulk(ctx, docs)
	if err != nil {
		return err
	}
	w.stats.Flushes++
	w.stats.Docs += result.Docs
	w.stats.Errors += result.Errors
	if w.opts.onFlush != nil {
		w.opts.onFlush(result)
	}
	return nil
}

// writeAll appends docs, then flushes the remainder.
func (w *BulkWriter) writeAll(ctx context.Context, docs []interface{}) (BulkStats, error) {
	for _, doc := range docs {
		if err := w.Append(ctx, doc); err != nil {
			return w.Stats(), err
		}
	}
	err := w.Flush(ctx)
	return w.Stats(), err
}

// Len returns the number of pending documents.
func (w *BulkWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.docs)
}

// Size returns the encoded size, in bytes, of the pending documents as a
// JSON array.
func (w *BulkWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.docs) == 0 {
		return 0
	}
	return arraySize(len(w.docs), w.total)
}

// Stats returns the totals for all flushes so far.
func (w *BulkWriter) Stats() BulkStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
