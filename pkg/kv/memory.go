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
	"sync"
)

// MemoryStore is an in-process Store used by tests and the default benchmark
// run. It needs no infrastructure, in the same spirit as the demo clients
// elsewhere in this repo: you can exercise the full engine without a server.
//
// Linearization per key comes from a single mutex over the map. That is a
// stricter guarantee than the contract requires (it linearizes across keys
// too) but keeps the implementation obviously correct; the benchmark numbers
// it produces reflect engine overhead, not store overhead.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	value []byte
	ver   Version
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, Version, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, None, false, Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, None, false, nil
	}
	// Copy out so callers can't mutate the stored snapshot.
	out := make([]byte, len(doc.value))
	copy(out, doc.value)
	return out, doc.ver, true, nil
}

func (s *MemoryStore) Insert(ctx context.Context, key string, value []byte) (Version, error) {
	if err := ctx.Err(); err != nil {
		return None, Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; ok {
		return None, ErrAlreadyExists
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.docs[key] = memoryDoc{value: stored, ver: 1}
	return 1, nil
}

func (s *MemoryStore) Replace(ctx context.Context, key string, value []byte, expected Version) (Version, error) {
	if err := ctx.Err(); err != nil {
		return None, Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return None, ErrNotFound
	}
	if doc.ver != expected {
		return None, ErrCasMismatch
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	next := doc.ver + 1
	s.docs[key] = memoryDoc{value: stored, ver: next}
	return next, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return ErrNotFound
	}
	delete(s.docs, key)
	return nil
}

// Len reports the number of stored documents. Used by tests and the
// post-run consistency verifier.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
