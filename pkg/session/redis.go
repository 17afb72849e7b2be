// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "agentcore:session:"

const redisMetaSuffix = ":meta"

// RedisStore keeps each session under <prefix><id> with the last-modified
// epoch milliseconds under <prefix><id>:meta. Redis serializes writes per
// key, which gives the last-write-wins contract for free.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix gets the
// default.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (rs *RedisStore) key(id string) string     { return rs.prefix + id }
func (rs *RedisStore) metaKey(id string) string { return rs.key(id) + redisMetaSuffix }

// Save implements Store.
func (rs *RedisStore) Save(ctx context.Context, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", id, err)
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.key(id), data, 0)
	pipe.Set(ctx, rs.metaKey(id), now, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %q: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (rs *RedisStore) Load(ctx context.Context, id string) (Document, error) {
	data, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, id, err)
	}
	return doc, nil
}

// Exists implements Store.
func (rs *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := rs.client.Exists(ctx, rs.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check session %q: %w", id, err)
	}
	return n > 0, nil
}

// List implements Store.
func (rs *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, redisMetaSuffix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, rs.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// Delete implements Store.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, rs.key(id), rs.metaKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// Info implements Store.
func (rs *RedisStore) Info(ctx context.Context, id string) (*Info, error) {
	doc, err := rs.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	size, err := rs.client.StrLen(ctx, rs.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("session %q size: %w", id, err)
	}

	info := &Info{ID: id, Size: size, Components: len(doc)}
	if meta, err := rs.client.Get(ctx, rs.metaKey(id)).Result(); err == nil {
		if millis, perr := strconv.ParseInt(meta, 10, 64); perr == nil {
			info.LastModified = time.UnixMilli(millis)
		}
	}
	return info, nil
}

var _ Store = (*RedisStore)(nil)
