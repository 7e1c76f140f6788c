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

// Package yaml produces a stream of YAML documents.
package yaml

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/output"
)

type format struct{}

var _ output.Format = &format{}

// New returns the yaml formatter.
func New() output.Format {
	return &format{}
}

type encoder struct {
	enc *yaml.Encoder
}

func (f *format) NewEncoder(w io.Writer) output.Encoder {
	return &encoder{enc: yaml.NewEncoder(w)}
}

// Encode round-trips v through JSON, so that raw JSON values and struct
// tags are rendered as they would be in JSON output.
func (e *encoder) Encode(v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var obj interface{}
	if err := json.Unmarshal(buf, &obj); err != nil {
		return err
	}
	return e.enc.Encode(obj)
}

func (e *encoder) Close() error {
	return e.enc.Close()
}
