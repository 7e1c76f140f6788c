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
	"encoding/json"
	"fmt"
	"net/url"
)

// Option is an optional parameter for a read or write operation. Options
// which do not apply to an operation are ignored.
type Option interface {
	// Apply applies the option to target, if target is of the expected type.
	// Unexpected/recognized target types should be ignored.
	Apply(target interface{})
}

type allOptions []Option

var _ Option = (allOptions)(nil)

func (o allOptions) Apply(t interface{}) {
	for _, opt := range o {
		if opt != nil {
			opt.Apply(t)
		}
	}
}

// Params is a collection of query parameters sent with read requests. Values
// may be strings, string slices, bools or integers. Any other value is sent
// JSON encoded. String key parameters, such as startkey, must be JSON encoded
// by the caller.
type Params map[string]interface{}

var _ Option = Params(nil)

// Apply applies o to target.
func (o Params) Apply(target interface{}) {
	switch t := target.(type) {
	case *url.Values:
		for key, i := range o {
			var values []string
			switch v := i.(type) {
			case string:
				values = []string{v}
			case []string:
				values = v
			case bool:
				values = []string{fmt.Sprintf("%t", v)}
			case int, uint, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
				values = []string{fmt.Sprintf("%d", v)}
			default:
				if enc, err := json.Marshal(v); err == nil {
					values = []string{string(enc)}
				}
			}
			t.Del(key)
			for _, value := range values {
				t.Add(key, value)
			}
		}
	case *pageOptions:
		o.Apply(&t.params)
	}
}

// Param sets a single query parameter.
func Param(key string, value interface{}) Option {
	return Params{key: value}
}

type pageOptions struct {
	params     url.Values
	limit      int
	startAfter string
}

func newPageOptions(defaultLimit int, opts []Option) *pageOptions {
	o := &pageOptions{
		params: url.Values{},
		limit:  defaultLimit,
	}
	allOptions(opts).Apply(o)
	return o
}

type pageSize int

// PageSize sets the number of rows requested per page.
func PageSize(n int) Option {
	return pageSize(n)
}

func (s pageSize) Apply(target interface{}) {
	if o, ok := target.(*pageOptions); ok {
		o.limit = int(s)
	}
}

func (s pageSize) String() string { return fmt.Sprintf("[PageSize:%d]", int(s)) }

type startAfter string

// StartAfter resumes a cursor paginator after the given document id, as if
// a page ending with id had just been delivered. It takes precedence over a
// startkey parameter.
func StartAfter(id string) Option {
	return startAfter(id)
}

func (s startAfter) Apply(target interface{}) {
	if o, ok := target.(*pageOptions); ok {
		o.startAfter = string(s)
	}
}

type bulkOptions struct {
	flushBytes     int64
	maxArrayLength int
	onFlush        func(*BulkResult)
	assignIDs      bool
}

type flushSize int64

// FlushSizeMB overrides [Config.FlushSizeMB] for a bulk writer.
func FlushSizeMB(mb float64) Option {
	return flushSize(flushBytes(mb))
}

// FlushSizeBytes sets the flush threshold of a bulk writer, in bytes.
func FlushSizeBytes(n int64) Option {
	return flushSize(n)
}

func (s flushSize) Apply(target interface{}) {
	if o, ok := target.(*bulkOptions); ok {
		o.flushBytes = int64(s)
	}
}

type maxArrayLength int

// MaxArrayLength overrides [Config.MaxArrayLength] for a bulk writer.
func MaxArrayLength(n int) Option {
	return maxArrayLength(n)
}

func (n maxArrayLength) Apply(target interface{}) {
	if o, ok := target.(*bulkOptions); ok {
		o.maxArrayLength = int(n)
	}
}

type onFlush func(*BulkResult)

// OnFlush registers fn to be called after every bulk request issued by a
// bulk writer, with the response and its per-document error count.
func OnFlush(fn func(*BulkResult)) Option {
	return onFlush(fn)
}

func (fn onFlush) Apply(target interface{}) {
	if o, ok := target.(*bulkOptions); ok {
		o.onFlush = fn
	}
}

type assignIDs struct{}

// AssignIDs causes a bulk writer to give a random UUID to every document
// without an _id.
func AssignIDs() Option {
	return assignIDs{}
}

func (assignIDs) Apply(target interface{}) {
	if o, ok := target.(*bulkOptions); ok {
		o.assignIDs = true
	}
}

func (assignIDs) String() string { return "[AssignIDs]" }
