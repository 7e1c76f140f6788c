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

// Package input reads documents for the load and bulk-delete commands.
package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/icza/dyno"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
)

// Input is a source of documents.
type Input struct {
	data  string
	file  string
	yaml  bool
	stdin io.Reader
}

// New returns an Input reading from stdin when --data-file is "-".
func New(stdin io.Reader) *Input {
	return &Input{stdin: stdin}
}

// ConfigFlags registers the input flags.
func (i *Input) ConfigFlags(pf *pflag.FlagSet) {
	pf.StringVarP(&i.data, "data", "d", "", "JSON document data.")
	pf.StringVarP(&i.file, "data-file", "D", "", "Read documents from the named file. Use - for stdin. Assumed to be JSON, unless the file extension is .yaml or .yml, or the --yaml flag is used.")
	pf.BoolVar(&i.yaml, "yaml", false, "Treat input data as YAML")
}

// SetStdin sets the reader used when --data-file is "-".
func (i *Input) SetStdin(r io.Reader) {
	i.stdin = r
}

// HasInput returns true if some input has been provided.
func (i *Input) HasInput() bool {
	return i.data != "" || i.file != ""
}

func (i *Input) isYAML() bool {
	return i.yaml || strings.HasSuffix(i.file, ".yaml") || strings.HasSuffix(i.file, ".yml")
}

func (i *Input) reader() (io.ReadCloser, error) {
	if i.data != "" {
		return io.NopCloser(strings.NewReader(i.data)), nil
	}
	switch i.file {
	case "-":
		return io.NopCloser(i.stdin), nil
	case "":
		return nil, errors.Code(errors.ErrUsage, "no document data provided")
	}
	f, err := os.Open(i.file)
	if err != nil {
		return nil, errors.Code(errors.ErrNoInput, err)
	}
	return f, nil
}

// Each calls fn with every document in the input, in order, as a JSON
// object. JSON input may be a stream of objects, such as NDJSON, or arrays
// of objects. YAML input may hold several documents, each an object or a
// list of objects.
func (i *Input) Each(fn func(doc json.RawMessage) error) error {
	r, err := i.reader()
	if err != nil {
		return err
	}
	defer r.Close() // nolint:errcheck
	if i.isYAML() {
		return eachYAML(r, fn)
	}
	return eachJSON(bufio.NewReader(r), fn)
}

func eachJSON(r io.Reader, fn func(json.RawMessage) error) error {
	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Code(errors.ErrData, err)
		}
		if err := emitJSON(raw, fn); err != nil {
			return err
		}
	}
}

func emitJSON(raw json.RawMessage, fn func(json.RawMessage) error) error {
	switch firstByte(raw) {
	case '{':
		return fn(raw)
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return errors.Code(errors.ErrData, err)
		}
		for _, item := range list {
			if firstByte(item) != '{' {
				return errors.Codef(errors.ErrData, "document must be a JSON object: %s", item)
			}
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Codef(errors.ErrData, "document must be a JSON object: %s", raw)
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func eachYAML(r io.Reader, fn func(json.RawMessage) error) error {
	dec := yaml.NewDecoder(r)
	for {
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Code(errors.ErrData, err)
		}
		if doc == nil {
			continue
		}
		raw, err := json.Marshal(dyno.ConvertMapI2MapS(doc))
		if err != nil {
			return errors.Code(errors.ErrData, err)
		}
		if err := emitJSON(raw, fn); err != nil {
			return err
		}
	}
}
