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

// Package kv defines the thin contract the transaction engine requires from
// an external key-value store: per-key linearized reads and writes with a
// document-level compare-and-swap version token.
//
// The engine never holds authoritative state in process. Every append reads
// a fresh snapshot, mutates it, and writes it back guarded by the version it
// read. Implementations only have to linearize operations on a single key;
// nothing is required across keys.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Version is an opaque CAS token. Zero means "no version": a document that
// does not exist yet, or a write that must be an Insert rather than a Replace.
// Successful replaces must strictly advance the token for the key.
type Version uint64

// None is the zero Version, used when creating a document.
const None Version = 0

// Sentinel errors forming the contract's failure taxonomy. Callers classify
// with errors.Is; anything not matching one of these (and not wrapped in
// Transient) is treated as fatal for the current operation.
var (
	// ErrCasMismatch: the stored version differs from the expected one.
	// The writer must re-read and retry.
	ErrCasMismatch = errors.New("kv: cas mismatch")

	// ErrAlreadyExists: an Insert raced another successful Insert.
	ErrAlreadyExists = errors.New("kv: key already exists")

	// ErrNotFound: Replace or Remove targeted a missing key.
	ErrNotFound = errors.New("kv: key not found")
)

// TransientError wraps a retryable infrastructure failure (timeout,
// connection reset). It is retried with the same policy as a CAS conflict
// but counted separately by the engine.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("kv: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable infrastructure failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is a CAS conflict or a lost insert race,
// both of which the retry loop resolves by re-reading.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCasMismatch) || errors.Is(err, ErrAlreadyExists)
}

// Store is the abstract key-value contract. All operations are synchronous
// from the caller's view and accept a context for timeouts and cancellation.
type Store interface {
	// Get returns the document bytes, its current version, and whether the
	// key exists. A missing key is (nil, None, false, nil), not an error.
	Get(ctx context.Context, key string) (value []byte, ver Version, exists bool, err error)

	// Insert creates the document iff the key does not exist, returning the
	// new version. Returns ErrAlreadyExists if another writer got there first.
	Insert(ctx context.Context, key string, value []byte) (Version, error)

	// Replace overwrites the document iff its stored version equals expected,
	// returning the advanced version. Returns ErrCasMismatch on a stale
	// expectation and ErrNotFound if the key vanished.
	Replace(ctx context.Context, key string, value []byte, expected Version) (Version, error)

	// Remove deletes the document. Returns ErrNotFound for a missing key.
	Remove(ctx context.Context, key string) error
}
