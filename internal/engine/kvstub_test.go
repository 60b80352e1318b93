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

// Package engine test support: a scripted KV store that injects error
// sequences in front of a real in-memory store, so the writer state
// machines can be driven through conflict, transient and failure paths
// deterministically.
package engine

import (
	"context"
	"sync"
	"time"

	"gte/pkg/kv"
)

// fixedClock pins time so the id generator's millisecond component never
// moves, which makes id collisions reproducible.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type scriptedStore struct {
	mem *kv.MemoryStore

	mu          sync.Mutex
	getErrs     []error
	insertErrs  []error
	replaceErrs []error
	removeErrs  []error

	// keyReplaceErrs are consumed before alwaysReplaceErr, scoped to one key.
	keyReplaceErrs map[string][]error
	// alwaysReplaceErr, when set for a key, fails every Replace of that key.
	alwaysReplaceErr map[string]error
	// alwaysRemoveErr, when set for a key, fails every Remove of that key.
	alwaysRemoveErr map[string]error

	gets, inserts, replaces, removes int
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		mem:              kv.NewMemoryStore(),
		keyReplaceErrs:   make(map[string][]error),
		alwaysReplaceErr: make(map[string]error),
		alwaysRemoveErr:  make(map[string]error),
	}
}

// queueReplaceErr scripts errors for the next Replaces of one key only.
func (s *scriptedStore) queueReplaceErr(key string, errs ...error) {
	s.mu.Lock()
	s.keyReplaceErrs[key] = append(s.keyReplaceErrs[key], errs...)
	s.mu.Unlock()
}

func (s *scriptedStore) pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (s *scriptedStore) Get(ctx context.Context, key string) ([]byte, kv.Version, bool, error) {
	s.mu.Lock()
	s.gets++
	err := s.pop(&s.getErrs)
	s.mu.Unlock()
	if err != nil {
		return nil, kv.None, false, err
	}
	return s.mem.Get(ctx, key)
}

func (s *scriptedStore) Insert(ctx context.Context, key string, value []byte) (kv.Version, error) {
	s.mu.Lock()
	s.inserts++
	err := s.pop(&s.insertErrs)
	s.mu.Unlock()
	if err != nil {
		return kv.None, err
	}
	return s.mem.Insert(ctx, key, value)
}

func (s *scriptedStore) Replace(ctx context.Context, key string, value []byte, expected kv.Version) (kv.Version, error) {
	s.mu.Lock()
	s.replaces++
	err := s.pop(&s.replaceErrs)
	if err == nil && len(s.keyReplaceErrs[key]) > 0 {
		queue := s.keyReplaceErrs[key]
		err = queue[0]
		s.keyReplaceErrs[key] = queue[1:]
	}
	if err == nil {
		err = s.alwaysReplaceErr[key]
	}
	s.mu.Unlock()
	if err != nil {
		return kv.None, err
	}
	return s.mem.Replace(ctx, key, value, expected)
}

func (s *scriptedStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removes++
	err := s.pop(&s.removeErrs)
	if err == nil {
		err = s.alwaysRemoveErr[key]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.Remove(ctx, key)
}

// mustGetRound reads and decodes a round straight from the backing store.
func (s *scriptedStore) mustGetRound(t interface {
	Helper()
	Fatalf(string, ...any)
}, roundID string) *Round {
	t.Helper()
	raw, _, exists, err := s.mem.Get(context.Background(), roundID)
	if err != nil || !exists {
		t.Fatalf("round %q not readable: exists=%v err=%v", roundID, exists, err)
	}
	round, err := DecodeRound(raw)
	if err != nil {
		t.Fatalf("decode round %q: %v", roundID, err)
	}
	return round
}

// testConfig returns a config with generous budgets so tests only hit
// limits they set explicitly.
func testConfig(mode Variant) Config {
	return Config{WriterMode: mode}
}
