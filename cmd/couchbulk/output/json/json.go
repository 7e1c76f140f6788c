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

// Package json produces newline-delimited JSON output.
package json

import (
	"encoding/json"
	"io"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/output"
)

type format struct{}

var _ output.Format = &format{}

// New returns the NDJSON formatter.
func New() output.Format {
	return &format{}
}

type encoder struct {
	enc *json.Encoder
}

func (f *format) NewEncoder(w io.Writer) output.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &encoder{enc: enc}
}

func (e *encoder) Encode(v interface{}) error {
	return e.enc.Encode(v)
}

func (e *encoder) Close() error { return nil }
