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

// Package checkpoint records how far a paginated dump has progressed, so
// that an interrupted dump can resume after the last document it wrote.
package checkpoint

import (
	"context"
	"strings"
	"time"
)

// Checkpoint is the progress of one dump.
type Checkpoint struct {
	// LastID is the ID of the last document delivered.
	LastID string `yaml:"last_id"`
	// Docs is the number of documents delivered so far.
	Docs int64 `yaml:"docs"`
	// Updated is the time of the last save.
	Updated time.Time `yaml:"updated"`
}

// Store persists checkpoints by key. Load returns a nil Checkpoint, and no
// error, if nothing has been saved under key.
type Store interface {
	Load(ctx context.Context, key string) (*Checkpoint, error)
	Save(ctx context.Context, key string, cp Checkpoint) error
	Clear(ctx context.Context, key string) error
	Close() error
}

// Open returns a Redis store for redis:// and rediss:// URLs, and a file
// store for anything else.
func Open(target string) (Store, error) {
	if strings.HasPrefix(target, "redis://") || strings.HasPrefix(target, "rediss://") {
		return OpenRedis(target)
	}
	return NewFile(target), nil
}
