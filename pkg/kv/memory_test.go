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
	"strconv"
	"sync"
	"testing"
)

func TestMemoryStoreBasicContract(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Missing key is not an error.
	val, ver, exists, err := s.Get(ctx, "k")
	if err != nil || exists || val != nil || ver != None {
		t.Fatalf("get missing = (%v, %v, %v, %v)", val, ver, exists, err)
	}

	ver, err = s.Insert(ctx, "k", []byte("v1"))
	if err != nil || ver != 1 {
		t.Fatalf("insert = (%v, %v), want (1, nil)", ver, err)
	}
	if _, err := s.Insert(ctx, "k", []byte("v2")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second insert err = %v, want ErrAlreadyExists", err)
	}

	val, ver, exists, err = s.Get(ctx, "k")
	if err != nil || !exists || string(val) != "v1" || ver != 1 {
		t.Fatalf("get = (%q, %v, %v, %v)", val, ver, exists, err)
	}

	// Replace advances the version; a stale expectation is a mismatch.
	ver, err = s.Replace(ctx, "k", []byte("v2"), 1)
	if err != nil || ver != 2 {
		t.Fatalf("replace = (%v, %v), want (2, nil)", ver, err)
	}
	if _, err := s.Replace(ctx, "k", []byte("v3"), 1); !errors.Is(err, ErrCasMismatch) {
		t.Fatalf("stale replace err = %v, want ErrCasMismatch", err)
	}
	if _, err := s.Replace(ctx, "missing", []byte("v"), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replace missing err = %v, want ErrNotFound", err)
	}

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	in := []byte("abc")
	if _, err := s.Insert(ctx, "k", in); err != nil {
		t.Fatal(err)
	}
	in[0] = 'x'

	out, _, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", out)
	}
	out[0] = 'y'
	again, _, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored slice: %q", again)
	}
}

func TestMemoryStoreCancelledContextIsTransient(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, _, err := s.Get(ctx, "k"); !IsTransient(err) {
		t.Fatalf("get err = %v, want transient", err)
	}
	if _, err := s.Insert(ctx, "k", nil); !IsTransient(err) {
		t.Fatalf("insert err = %v, want transient", err)
	}
}

// TestMemoryStoreCASLinearizes hammers one key with optimistic increments
// from many goroutines; the final value must equal the total applied.
func TestMemoryStoreCASLinearizes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, "counter", []byte("0")); err != nil {
		t.Fatal(err)
	}

	const workers = 16
	const increments = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				for {
					raw, ver, _, err := s.Get(ctx, "counter")
					if err != nil {
						t.Error(err)
						return
					}
					n, _ := strconv.Atoi(string(raw))
					_, err = s.Replace(ctx, "counter", []byte(strconv.Itoa(n+1)), ver)
					if err == nil {
						break
					}
					if !errors.Is(err, ErrCasMismatch) {
						t.Errorf("replace: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	raw, ver, _, err := s.Get(ctx, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != fmt.Sprint(workers*increments) {
		t.Fatalf("counter = %s, want %d", raw, workers*increments)
	}
	// One successful replace per increment, each advancing the version.
	if ver != Version(workers*increments+1) {
		t.Fatalf("version = %d, want %d", ver, workers*increments+1)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsConflict(ErrCasMismatch) || !IsConflict(ErrAlreadyExists) {
		t.Fatal("conflict sentinels not classified as conflicts")
	}
	if IsConflict(ErrNotFound) {
		t.Fatal("ErrNotFound misclassified as conflict")
	}

	base := errors.New("timeout")
	wrapped := Transient(base)
	if !IsTransient(wrapped) {
		t.Fatal("Transient wrapper not classified as transient")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("Transient must unwrap to the cause")
	}
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) must be nil")
	}
	if IsTransient(ErrCasMismatch) {
		t.Fatal("conflict misclassified as transient")
	}
}
