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

// Package output writes streamed records in the selected format.
package output

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
)

// Formatter manages output formatting.
type Formatter struct {
	mu      sync.Mutex
	formats map[string]Format
	def     string

	format    string
	output    string
	overwrite bool
}

// New returns an output formatter instance.
func New() *Formatter {
	return &Formatter{
		formats: map[string]Format{},
	}
}

// Format creates encoders for one output format.
type Format interface {
	NewEncoder(io.Writer) Encoder
}

// Encoder writes one record per call to Encode.
type Encoder interface {
	Encode(v interface{}) error
	// Close flushes any buffered output. It does not close the underlying
	// writer.
	Close() error
}

// Register registers an output format. The first format registered is the
// default.
func (f *Formatter) Register(name string, format Format) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.formats[name]; ok {
		panic(name + " already registered")
	}
	f.formats[name] = format
	if f.def == "" {
		f.def = name
	}
}

func (f *Formatter) options() []string {
	if len(f.formats) == 0 {
		panic("no formatters registered")
	}
	names := make([]string, 0, len(f.formats))
	for name := range f.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigFlags sets up the CLI flags based on the configured formatters.
func (f *Formatter) ConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.format, "format", "f", "", "Output format. One of: "+strings.Join(f.options(), "|"))
	fs.StringVarP(&f.output, "output", "o", "", "Output file. Defaults to stdout.")
	fs.BoolVarP(&f.overwrite, "overwrite", "F", false, "Overwrite output file")
}

// Open returns an encoder writing to the output file, or to stdout if none
// was chosen. Closing the returned encoder closes the file.
func (f *Formatter) Open(stdout io.Writer) (Encoder, error) {
	name := f.format
	if name == "" {
		name = f.def
	}
	format, ok := f.formats[name]
	if !ok {
		return nil, errors.Codef(errors.ErrUsage, "unrecognized output format option: %s", name)
	}
	switch f.output {
	case "", "-":
		return format.NewEncoder(stdout), nil
	}
	file, err := f.createFile(f.output)
	if err != nil {
		return nil, errors.Code(errors.ErrCantCreate, err)
	}
	return &fileEncoder{Encoder: format.NewEncoder(file), file: file}, nil
}

func (f *Formatter) createFile(path string) (*os.File, error) {
	if f.overwrite {
		return os.Create(path)
	}
	return os.OpenFile(path, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0o666) //nolint:gomnd
}

type fileEncoder struct {
	Encoder
	file *os.File
}

func (e *fileEncoder) Close() error {
	err := e.Encoder.Close()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return errors.Code(errors.ErrIO, err)
}
