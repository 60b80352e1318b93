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

package engine

import "time"

// Default policy knobs. The deadline is 2.5x the 20 ms latency target to
// absorb tail latency without letting one operation camp on its worker.
const (
	DefaultEmbeddedMaxRetries = 3
	DefaultIndexedMaxRetries  = 5 // per document
	DefaultOperationDeadline  = 50 * time.Millisecond
)

// Config is the engine's configuration surface. Zero values mean "use the
// documented default"; cmd mains populate it from flags.
type Config struct {
	// WriterMode selects the storage shape: VariantEmbedded or VariantIndexed.
	WriterMode Variant

	// MaxRetries bounds CAS retries per document. 0 picks the per-mode
	// default (3 embedded, 5 per document indexed); use WithMaxRetries(0)
	// to really mean "no retries".
	MaxRetries int
	retriesSet bool

	// OperationDeadline bounds one logical append including all retries.
	// Negative disables nothing: a zero-or-below deadline makes every
	// attempt report Deadline immediately (useful in tests).
	OperationDeadline time.Duration
	deadlineSet       bool

	// BusinessRejectOnNegativeBalance refuses BETs that would drive the
	// balance below zero instead of recording them as FAILED transactions.
	BusinessRejectOnNegativeBalance bool

	// RejectOnClosedRound refuses appends to COMPLETED/CANCELLED rounds.
	// Default false: lifecycle transitions do not block appends.
	RejectOnClosedRound bool

	// MaxTxnsPerRound caps the embedded tail; exceeding it surfaces as a
	// BusinessReject with reason round_full. 0 means unbounded.
	MaxTxnsPerRound int
}

// WithDeadline returns a copy with an explicit deadline, distinguishing
// "zero deadline" (expire immediately) from "not set" (use default).
func (c Config) WithDeadline(d time.Duration) Config {
	c.OperationDeadline = d
	c.deadlineSet = true
	return c
}

func (c Config) operationDeadline() time.Duration {
	if !c.deadlineSet && c.OperationDeadline == 0 {
		return DefaultOperationDeadline
	}
	return c.OperationDeadline
}

func (c Config) maxRetries(mode Variant) int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	if c.MaxRetries == 0 && c.retriesSet {
		return 0
	}
	if mode == VariantIndexed {
		return DefaultIndexedMaxRetries
	}
	return DefaultEmbeddedMaxRetries
}

// WithMaxRetries returns a copy with an explicit retry budget, so 0 means
// "no retries" rather than "default".
func (c Config) WithMaxRetries(n int) Config {
	c.MaxRetries = n
	c.retriesSet = true
	return c
}
