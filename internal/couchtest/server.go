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

// Package couchtest provides an in-memory server implementing the subset of
// the CouchDB HTTP API used by couchbulk: databases, documents, attachments,
// _all_docs, _bulk_docs and views defined as Go functions.
package couchtest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// Request is a request as received by the server. Body is decompressed.
type Request struct {
	Method string
	// URI is the request target exactly as sent.
	URI      string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Query returns the parsed query string.
func (r Request) Query() url.Values {
	v, _ := url.ParseQuery(r.RawQuery)
	return v
}

// ViewFunc is a map function. It calls emit once for each row doc
// contributes to the view.
type ViewFunc func(doc map[string]interface{}, emit func(key, value interface{}))

type attachment struct {
	contentType string
	data        []byte
}

type document struct {
	id          string
	rev         string
	seq         int
	deleted     bool
	body        map[string]interface{}
	attachments map[string]attachment
}

type database struct {
	docs  *btree.BTreeG[*document]
	views map[string]ViewFunc
}

func newDatabase() *database {
	return &database{
		docs: btree.NewG[*document](32, func(a, b *document) bool { // nolint:gomnd
			return a.id < b.id
		}),
		views: map[string]ViewFunc{},
	}
}

func (d *database) get(id string) (*document, bool) {
	return d.docs.Get(&document{id: id})
}

// Server is an in-memory CouchDB server.
type Server struct {
	*httptest.Server

	username string
	password string

	mu       sync.Mutex
	dbs      map[string]*database
	requests []Request
}

// Option configures a Server.
type Option func(*Server)

// WithBasicAuth requires every request to carry the given credentials.
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// New starts a new server, which is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		dbs: map[string]*database{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.authenticate)
	r.Get("/", s.welcome)
	r.Route("/{db}", func(r chi.Router) {
		r.Get("/", s.dbInfo)
		r.Head("/", s.dbInfo)
		r.Put("/", s.createDB)
		r.Delete("/", s.destroyDB)
		r.Get("/_all_docs", s.allDocs)
		r.Post("/_bulk_docs", s.bulkDocs)
		r.Get("/_design/{ddoc}/_view/{view}", s.view)
		r.Get("/_design/{ddoc}", s.getDoc)
		r.Head("/_design/{ddoc}", s.getDoc)
		r.Put("/_design/{ddoc}", s.putDoc)
		r.Delete("/_design/{ddoc}", s.deleteDoc)
		r.Get("/{docid}", s.getDoc)
		r.Head("/{docid}", s.getDoc)
		r.Put("/{docid}", s.putDoc)
		r.Delete("/{docid}", s.deleteDoc)
		r.Get("/{docid}/{attname}", s.getAttachment)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var reader io.Reader = r.Body
			if r.Header.Get("Content-Encoding") == "gzip" {
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					writeError(w, http.StatusBadRequest, "bad_request", err.Error())
					return
				}
				reader = gz
			}
			var err error
			body, err = io.ReadAll(reader)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			URI:      r.RequestURI,
			Path:     r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.username != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Name or password is incorrect.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ResetRequests forgets all recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// CreateDB creates a database, if it does not already exist.
func (s *Server) CreateDB(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = newDatabase()
	}
}

// Seed stores docs in the named database, creating it if necessary. Each
// document must have an _id. Existing revisions are ignored. A document with
// _deleted set is stored as a tombstone.
func (s *Server) Seed(dbName string, docs ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		db = newDatabase()
		s.dbs[dbName] = db
	}
	for _, body := range docs {
		id, _ := body["_id"].(string)
		if id == "" {
			panic("couchtest: seeded document has no _id")
		}
		doc, ok := db.get(id)
		seq := 0
		if ok {
			seq = doc.seq
		}
		deleted, _ := body["_deleted"].(bool)
		db.docs.ReplaceOrInsert(&document{
			id:      id,
			rev:     newRev(seq + 1),
			seq:     seq + 1,
			deleted: deleted,
			body:    copyBody(body),
		})
	}
}

// AddAttachment attaches data to an existing document.
func (s *Server) AddAttachment(dbName, id, filename, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		panic("couchtest: no such database: " + dbName)
	}
	doc, ok := db.get(id)
	if !ok {
		panic("couchtest: no such document: " + id)
	}
	if doc.attachments == nil {
		doc.attachments = map[string]attachment{}
	}
	doc.attachments[filename] = attachment{contentType: contentType, data: data}
}

// AddView defines a view on the named database.
func (s *Server) AddView(dbName, ddoc, view string, fn ViewFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		db = newDatabase()
		s.dbs[dbName] = db
	}
	db.views[ddoc+"/"+view] = fn
}

// Doc returns the current body of a live document, including _id and _rev,
// or nil.
func (s *Server) Doc(dbName, id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return nil
	}
	doc, ok := db.get(id)
	if !ok || doc.deleted {
		return nil
	}
	return doc.full()
}

// DocCount returns the number of live documents in the named database.
func (s *Server) DocCount(dbName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return 0
	}
	return db.liveCount()
}

// DBExists reports whether the named database exists.
func (s *Server) DBExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dbs[name]
	return ok
}

func (d *database) liveCount() int {
	var n int
	d.docs.Ascend(func(doc *document) bool {
		if !doc.deleted {
			n++
		}
		return true
	})
	return n
}

func (d *document) full() map[string]interface{} {
	body := copyBody(d.body)
	body["_id"] = d.id
	body["_rev"] = d.rev
	return body
}

func copyBody(body map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(body))
	for k, v := range body {
		switch k {
		case "_id", "_rev", "_deleted":
			continue
		}
		c[k] = v
	}
	return c
}

func newRev(seq int) string {
	return strconv.Itoa(seq) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name, reason string) {
	writeJSON(w, status, map[string]string{
		"error":  name,
		"reason": reason,
	})
}

func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// docID returns the document ID named in the request.
func docID(r *http.Request) string {
	if ddoc := param(r, "ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	return param(r, "docid")
}

// lookupDB returns the database named in the request, or writes a 404.
// s.mu must be held.
func (s *Server) lookupDB(w http.ResponseWriter, r *http.Request) (*database, bool) {
	db, ok := s.dbs[param(r, "db")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
	}
	return db, ok
}

func (s *Server) welcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"couchdb": "Welcome",
		"version": "3.3.3",
	})
}

func (s *Server) dbInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"db_name":   param(r, "db"),
		"doc_count": db.liveCount(),
	})
}

func (s *Server) createDB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := param(r, "db")
	if _, ok := s.dbs[name]; ok {
		writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
		return
	}
	s.dbs[name] = newDatabase()
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) destroyDB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookupDB(w, r); !ok {
		return
	}
	delete(s.dbs, param(r, "db"))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
