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

import "encoding/json"

// Document is a decoded JSON document.
type Document map[string]interface{}

// ID returns the document's _id, or "" if unset.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document's _rev, or "" if unset.
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// Deleted returns true if the document is a deletion stub.
func (d Document) Deleted() bool {
	deleted, _ := d["_deleted"].(bool)
	return deleted
}

// Row is a single row of an _all_docs or view response.
type Row struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Doc   Document        `json:"doc,omitempty"`

	// Error and Reason are set for rows which could not be resolved, such
	// as a requested key which does not exist.
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ViewResult is a single page of an _all_docs or view response.
type ViewResult struct {
	TotalRows int   `json:"total_rows"`
	Offset    int   `json:"offset"`
	Rows      []Row `json:"rows"`
}

// continuationID returns the id from which the next cursor page continues.
// Error rows carry no id, so their key is used instead.
func (r Row) continuationID() string {
	if r.ID != "" {
		return r.ID
	}
	var key string
	if err := json.Unmarshal(r.Key, &key); err == nil {
		return key
	}
	return string(r.Key)
}
