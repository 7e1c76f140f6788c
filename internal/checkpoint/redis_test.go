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
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gitlab.com/flimzy/testy"
)

// localRedis returns a client for a Redis server on localhost, using a
// scratch database, or skips the test.
func localRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return client
}

func testRedisStore(t *testing.T, client *redis.Client) {
	t.Helper()
	ctx := context.Background()
	store := NewRedis(client, time.Hour)

	cp, err := store.Load(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Fatalf("Expected no checkpoint, got %+v", cp)
	}

	before := time.Now().Add(-time.Second)
	if err := store.Save(ctx, "db", Checkpoint{LastID: "doc010", Docs: 11}); err != nil {
		t.Fatal(err)
	}
	cp, err = store.Load(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if cp.LastID != "doc010" || cp.Docs != 11 || cp.Updated.Before(before) {
		t.Errorf("Unexpected checkpoint: %+v", cp)
	}
	if ttl := client.TTL(ctx, KeyPrefix+"db").Val(); ttl <= 0 || ttl > time.Hour {
		t.Errorf("Unexpected TTL: %s", ttl)
	}

	if err := store.Clear(ctx, "db"); err != nil {
		t.Fatal(err)
	}
	cp, err = store.Load(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Errorf("Checkpoint should be cleared: %+v", cp)
	}
}

func TestRedis(t *testing.T) {
	testRedisStore(t, localRedis(t))
}

func TestRedisCorrupt(t *testing.T) {
	client := localRedis(t)
	ctx := context.Background()
	client.HSet(ctx, KeyPrefix+"db", "last_id", "x", "docs", "many")
	_, err := NewRedis(client, 0).Load(ctx, "db")
	if !testy.ErrorMatchesRE("invalid syntax", err) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestNewRedisNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with a nil client")
		}
	}()
	NewRedis(nil, 0)
}
