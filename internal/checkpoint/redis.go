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
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to every key stored in Redis.
const KeyPrefix = "couchbulk:checkpoint:"

// Redis stores each checkpoint as a hash.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// OpenRedis connects to the server named by a redis:// or rediss:// URL.
func OpenRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedis(redis.NewClient(opts), 0), nil
}

// NewRedis returns a store using client. Checkpoints expire after ttl, if it
// is positive.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if client == nil {
		panic("checkpoint: redis client cannot be nil")
	}
	return &Redis{client: client, ttl: ttl}
}

// Load returns the checkpoint saved under key.
func (r *Redis) Load(ctx context.Context, key string) (*Checkpoint, error) {
	vals, err := r.client.HGetAll(ctx, KeyPrefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	cp := &Checkpoint{LastID: vals["last_id"]}
	if cp.Docs, err = strconv.ParseInt(vals["docs"], 10, 64); err != nil {
		return nil, err
	}
	if updated, ok := vals["updated"]; ok {
		if cp.Updated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// Save records cp under key.
func (r *Redis) Save(ctx context.Context, key string, cp Checkpoint) error {
	k := KeyPrefix + key
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"last_id", cp.LastID,
			"docs", cp.Docs,
			"updated", time.Now().UTC().Format(time.RFC3339Nano),
		)
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	return err
}

// Clear forgets key.
func (r *Redis) Clear(ctx context.Context, key string) error {
	return r.client.Del(ctx, KeyPrefix+key).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
