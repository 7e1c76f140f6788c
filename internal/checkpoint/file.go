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

package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// File stores checkpoints in a YAML file, keyed by dump.
type File struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

var _ Store = (*File)(nil)

// NewFile returns a store backed by the YAML file at path. The file is
// created on the first Save.
func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) read() (map[string]Checkpoint, error) {
	buf, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Checkpoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	all := map[string]Checkpoint{}
	if err := yaml.Unmarshal(buf, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// write replaces the file atomically.
func (f *File) write(all map[string]Checkpoint) error {
	buf, err := yaml.Marshal(all)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Load returns the checkpoint saved under key.
func (f *File) Load(_ context.Context, key string) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return nil, err
	}
	cp, ok := all[key]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// Save records cp under key.
func (f *File) Save(_ context.Context, key string, cp Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	cp.Updated = f.now().UTC()
	all[key] = cp
	return f.write(all)
}

// Clear forgets key. The file is removed once it holds no checkpoints.
func (f *File) Clear(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	if len(all) == 0 {
		return os.Remove(f.path)
	}
	return f.write(all)
}

// Close is a no-op.
func (f *File) Close() error { return nil }
