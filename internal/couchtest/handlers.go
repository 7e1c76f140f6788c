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
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/go-kivik/couchbulk/internal/collate"
)

const reasonConflict = "Document update conflict."

var errConflict = errors.New("conflict")

type viewQuery struct {
	limit        int
	skip         int
	includeDocs  bool
	inclusiveEnd bool
	startKey     interface{}
	endKey       interface{}
	key          interface{}
	keys         []interface{}
}

func jsonParam(q url.Values, names ...string) (interface{}, bool, error) {
	for _, name := range names {
		if v, ok := q[name]; ok && len(v) > 0 {
			var key interface{}
			if err := json.Unmarshal([]byte(v[0]), &key); err != nil {
				return nil, false, errors.New("invalid JSON for " + name)
			}
			return key, true, nil
		}
	}
	return nil, false, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid value for " + name)
	}
	return n, nil
}

func parseViewQuery(q url.Values) (*viewQuery, error) {
	vq := &viewQuery{
		includeDocs:  q.Get("include_docs") == "true",
		inclusiveEnd: q.Get("inclusive_end") != "false",
	}
	var err error
	if vq.limit, err = intParam(q, "limit", -1); err != nil {
		return nil, err
	}
	if vq.skip, err = intParam(q, "skip", 0); err != nil {
		return nil, err
	}
	if vq.startKey, _, err = jsonParam(q, "startkey", "start_key"); err != nil {
		return nil, err
	}
	if vq.endKey, _, err = jsonParam(q, "endkey", "end_key"); err != nil {
		return nil, err
	}
	if vq.key, _, err = jsonParam(q, "key"); err != nil {
		return nil, err
	}
	keys, ok, err := jsonParam(q, "keys")
	if err != nil {
		return nil, err
	}
	if ok {
		list, isList := keys.([]interface{})
		if !isList {
			return nil, errors.New("keys must be an array")
		}
		vq.keys = list
	}
	return vq, nil
}

// page applies skip and limit to n rows, and returns the bounds.
func (vq *viewQuery) page(n int) (int, int) {
	start := vq.skip
	if start > n {
		start = n
	}
	end := n
	if vq.limit >= 0 && start+vq.limit < end {
		end = start + vq.limit
	}
	return start, end
}

func docRow(doc *document, includeDocs bool) map[string]interface{} {
	value := map[string]interface{}{"rev": doc.rev}
	row := map[string]interface{}{
		"id":    doc.id,
		"key":   doc.id,
		"value": value,
	}
	if doc.deleted {
		value["deleted"] = true
		if includeDocs {
			row["doc"] = nil
		}
		return row
	}
	if includeDocs {
		row["doc"] = doc.full()
	}
	return row
}

func (s *Server) allDocs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	vq, err := parseViewQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if vq.keys != nil {
		s.allDocsKeys(w, db, vq)
		return
	}
	startKey, ok := stringKey(vq.startKey)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "_all_docs keys must be strings")
		return
	}
	endKey, ok := stringKey(vq.endKey)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "_all_docs keys must be strings")
		return
	}

	var offset int
	rows := []map[string]interface{}{}
	db.docs.Ascend(func(doc *document) bool {
		if doc.deleted {
			return true
		}
		if startKey != nil && collate.CompareRaw(doc.id, *startKey) < 0 {
			offset++
			return true
		}
		if endKey != nil {
			c := collate.CompareRaw(doc.id, *endKey)
			if c > 0 || (c == 0 && !vq.inclusiveEnd) {
				return false
			}
		}
		rows = append(rows, docRow(doc, vq.includeDocs))
		return true
	})
	start, end := vq.page(len(rows))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_rows": db.liveCount(),
		"offset":     offset + start,
		"rows":       rows[start:end],
	})
}

// stringKey returns a nil pointer for an absent key, and false for a key which
// is not a string.
func stringKey(key interface{}) (*string, bool) {
	if key == nil {
		return nil, true
	}
	str, ok := key.(string)
	if !ok {
		return nil, false
	}
	return &str, true
}

func (s *Server) allDocsKeys(w http.ResponseWriter, db *database, vq *viewQuery) {
	rows := make([]map[string]interface{}, 0, len(vq.keys))
	for _, k := range vq.keys {
		id, _ := k.(string)
		doc, ok := db.get(id)
		if !ok {
			rows = append(rows, map[string]interface{}{
				"key":   k,
				"error": "not_found",
			})
			continue
		}
		rows = append(rows, docRow(doc, vq.includeDocs))
	}
	start, end := vq.page(len(rows))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_rows": db.liveCount(),
		"offset":     0,
		"rows":       rows[start:end],
	})
}

// normalize round-trips v through JSON, so that emitted keys and values
// compare like parsed JSON.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("couchtest: emitted value is not JSON: " + err.Error())
	}
	var out interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

type viewRow struct {
	doc   *document
	key   interface{}
	value interface{}
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	fn, ok := db.views[param(r, "ddoc")+"/"+param(r, "view")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "missing_named_view")
		return
	}
	vq, err := parseViewQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var all []viewRow
	db.docs.Ascend(func(doc *document) bool {
		if doc.deleted {
			return true
		}
		fn(doc.full(), func(key, value interface{}) {
			all = append(all, viewRow{doc: doc, key: normalize(key), value: normalize(value)})
		})
		return true
	})
	sort.SliceStable(all, func(i, j int) bool {
		if c := collate.Compare(all[i].key, all[j].key); c != 0 {
			return c < 0
		}
		return collate.CompareRaw(all[i].doc.id, all[j].doc.id) < 0
	})
	if vq.key != nil {
		filtered := all[:0]
		for _, row := range all {
			if collate.Compare(row.key, vq.key) == 0 {
				filtered = append(filtered, row)
			}
		}
		all = filtered
	}
	start, end := vq.page(len(all))
	rows := make([]map[string]interface{}, 0, end-start)
	for _, vr := range all[start:end] {
		row := map[string]interface{}{
			"id":    vr.doc.id,
			"key":   vr.key,
			"value": vr.value,
		}
		if vq.includeDocs {
			row["doc"] = vr.doc.full()
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_rows": len(all),
		"offset":     start,
		"rows":       rows,
	})
}

// update applies a single document write, as _bulk_docs and PUT do. s.mu
// must be held.
func (d *database) update(id string, body map[string]interface{}) (*document, error) {
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	rev, _ := body["_rev"].(string)
	deleted, _ := body["_deleted"].(bool)
	cur, exists := d.get(id)
	switch {
	case exists && !cur.deleted:
		if rev != cur.rev {
			return nil, errConflict
		}
	case exists:
		if rev != "" && rev != cur.rev {
			return nil, errConflict
		}
	case rev != "":
		return nil, errConflict
	}
	seq := 0
	if exists {
		seq = cur.seq
	}
	doc := &document{
		id:      id,
		rev:     newRev(seq + 1),
		seq:     seq + 1,
		deleted: deleted,
		body:    copyBody(body),
	}
	if exists && !deleted {
		doc.attachments = cur.attachments
	}
	d.docs.ReplaceOrInsert(doc)
	return doc, nil
}

func (s *Server) bulkDocs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	var req struct {
		Docs []map[string]interface{} `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
		return
	}
	if req.Docs == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "POST body must include `docs` parameter.")
		return
	}
	results := make([]map[string]interface{}, 0, len(req.Docs))
	for _, body := range req.Docs {
		id, _ := body["_id"].(string)
		doc, err := db.update(id, body)
		if err != nil {
			results = append(results, map[string]interface{}{
				"id":     id,
				"error":  "conflict",
				"reason": reasonConflict,
			})
			continue
		}
		results = append(results, map[string]interface{}{
			"ok":  true,
			"id":  doc.id,
			"rev": doc.rev,
		})
	}
	writeJSON(w, http.StatusCreated, results)
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	doc, ok := db.get(docID(r))
	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	case doc.deleted:
		writeError(w, http.StatusNotFound, "not_found", "deleted")
		return
	}
	w.Header().Set("ETag", `"`+doc.rev+`"`)
	writeJSON(w, http.StatusOK, doc.full())
}

func (s *Server) putDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
		return
	}
	if body == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Document must be a JSON object")
		return
	}
	if rev := r.URL.Query().Get("rev"); rev != "" {
		body["_rev"] = rev
	}
	s.writeUpdate(w, db, docID(r), body, http.StatusCreated)
}

func (s *Server) deleteDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	id := docID(r)
	if doc, ok := db.get(id); !ok || doc.deleted {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	body := map[string]interface{}{
		"_rev":     r.URL.Query().Get("rev"),
		"_deleted": true,
	}
	s.writeUpdate(w, db, id, body, http.StatusOK)
}

func (s *Server) writeUpdate(w http.ResponseWriter, db *database, id string, body map[string]interface{}, status int) {
	doc, err := db.update(id, body)
	if err != nil {
		writeError(w, http.StatusConflict, "conflict", reasonConflict)
		return
	}
	w.Header().Set("ETag", `"`+doc.rev+`"`)
	writeJSON(w, status, map[string]interface{}{
		"ok":  true,
		"id":  doc.id,
		"rev": doc.rev,
	})
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.lookupDB(w, r)
	if !ok {
		return
	}
	doc, ok := db.get(param(r, "docid"))
	if !ok || doc.deleted {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	att, ok := doc.attachments[param(r, "attname")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Document is missing attachment")
		return
	}
	w.Header().Set("Content-Type", att.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.data)
}
