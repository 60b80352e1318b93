// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package kv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a real Redis using github.com/redis/go-redis/v9.
//
// Each document is a Redis hash with two fields:
//
//	ver: monotonically increasing CAS token (starts at 1 on insert)
//	doc: the serialized document bytes
//
// Insert and Replace are Lua scripts so the version check and the write are
// atomic server-side; Redis's single-threaded command execution gives us the
// per-key linearization the contract requires for free.
type RedisStore struct {
	c *redis.Client
}

// RedisConfig carries the connection knobs surfaced by the engine config
// (kvConnectTimeoutMs, kvOpTimeoutMs).
type RedisConfig struct {
	Addr           string
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// NewRedisStore connects to the given address. Zero timeouts fall back to
// 10s connect / 1.5s per operation.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 1500 * time.Millisecond
	}
	return &RedisStore{c: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})}
}

// insertScript creates the hash iff the key is absent. Returns the new
// version (1) or -1 when the key already exists.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -1
end
redis.call('HSET', KEYS[1], 'ver', 1, 'doc', ARGV[1])
return 1
`)

// replaceScript swaps the document iff the stored version matches ARGV[2].
// Returns the advanced version, -1 on a version mismatch, -2 when missing.
var replaceScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'ver')
if not v then
  return -2
end
if tonumber(v) ~= tonumber(ARGV[2]) then
  return -1
end
local nv = tonumber(v) + 1
redis.call('HSET', KEYS[1], 'ver', nv, 'doc', ARGV[1])
return nv
`)

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, Version, bool, error) {
	res, err := s.c.HMGet(ctx, key, "ver", "doc").Result()
	if err != nil {
		return nil, None, false, classifyRedisErr(err)
	}
	if len(res) != 2 || res[0] == nil {
		return nil, None, false, nil
	}
	verStr, ok1 := res[0].(string)
	docStr, ok2 := res[1].(string)
	if !ok1 || !ok2 {
		return nil, None, false, fmt.Errorf("kv: corrupted document at %q", key)
	}
	var ver uint64
	if _, err := fmt.Sscanf(verStr, "%d", &ver); err != nil {
		return nil, None, false, fmt.Errorf("kv: corrupted version at %q: %w", key, err)
	}
	return []byte(docStr), Version(ver), true, nil
}

func (s *RedisStore) Insert(ctx context.Context, key string, value []byte) (Version, error) {
	n, err := insertScript.Run(ctx, s.c, []string{key}, value).Int64()
	if err != nil {
		return None, classifyRedisErr(err)
	}
	if n == -1 {
		return None, ErrAlreadyExists
	}
	return Version(n), nil
}

func (s *RedisStore) Replace(ctx context.Context, key string, value []byte, expected Version) (Version, error) {
	n, err := replaceScript.Run(ctx, s.c, []string{key}, value, uint64(expected)).Int64()
	if err != nil {
		return None, classifyRedisErr(err)
	}
	switch n {
	case -1:
		return None, ErrCasMismatch
	case -2:
		return None, ErrNotFound
	}
	return Version(n), nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	n, err := s.c.Del(ctx, key).Result()
	if err != nil {
		return classifyRedisErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error { return s.c.Close() }

// classifyRedisErr maps driver failures onto the contract taxonomy:
// timeouts and cancellations are transient (the retry loop absorbs them
// within its budget); anything else surfaces as-is and the engine treats it
// as fatal for the current operation.
func classifyRedisErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient(err)
	}
	return err
}
