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

import (
	"context"
	"time"
)

// Policy bounds one logical append: how many CAS retries a document gets and
// the wall-clock deadline the whole operation (all retries included) must
// fit inside. Backoff is linear and capped, min(retryIndex*2, 10) ms;
// conflicts on a hot round resolve in one or two re-reads.
type Policy struct {
	MaxRetries        int
	OperationDeadline time.Duration
	Clock             Clock
}

// backoffCap is the upper bound on a single retry sleep.
const backoffCap = 10 * time.Millisecond

// Backoff returns the sleep before retry number retryIndex (1-based).
func (p Policy) Backoff(retryIndex int) time.Duration {
	d := time.Duration(retryIndex) * 2 * time.Millisecond
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Begin opens a Budget anchored at the current clock reading. The returned
// budget is owned by a single goroutine for the life of one append.
type Budget struct {
	policy   Policy
	start    time.Time
	deadline time.Time

	// per-budget accounting, read back into the AppendResult
	retries    int
	conflicts  int
	transients int
}

func (p Policy) Begin() *Budget {
	start := p.Clock.Now()
	return &Budget{
		policy:   p,
		start:    start,
		deadline: start.Add(p.OperationDeadline),
	}
}

// Sibling returns a fresh budget sharing b's start and deadline but with
// its own retry and conflict counters. The indexed writer uses one sibling
// per document: the overall deadline is the single operation deadline, it
// is not per-document.
func (b *Budget) Sibling() *Budget {
	return &Budget{policy: b.policy, start: b.start, deadline: b.deadline}
}

// Expired reports whether the operation deadline has passed. A zero
// OperationDeadline expires immediately: every attempt then reports
// Deadline without touching the store.
func (b *Budget) Expired() bool {
	return !b.policy.Clock.Now().Before(b.deadline)
}

// CanRetry reports whether another retry fits the count budget. Callers
// must check Expired first: deadline-exceeded takes precedence over retry
// exhaustion when both apply at the same attempt boundary.
func (b *Budget) CanRetry() bool { return b.retries < b.policy.MaxRetries }

// RecordConflict counts a CAS mismatch or lost insert race.
func (b *Budget) RecordConflict() { b.conflicts++ }

// RecordTransient counts a retryable infrastructure failure. Tracked apart
// from conflicts so the aggregator can tell contention from flaky I/O.
func (b *Budget) RecordTransient() { b.transients++ }

// SleepBeforeRetry consumes one retry and performs the deadline-aware
// backoff sleep. It returns ErrDeadline when the sleep cannot complete
// before the deadline (the remainder of the budget is not worth an attempt
// that would be abandoned mid-flight), or the context error on cancellation.
func (b *Budget) SleepBeforeRetry(ctx context.Context) error {
	b.retries++
	d := b.policy.Backoff(b.retries)
	now := b.policy.Clock.Now()
	remaining := b.deadline.Sub(now)
	if remaining <= 0 {
		return ErrDeadline
	}
	if d > remaining {
		d = remaining
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retries returns the retries consumed so far.
func (b *Budget) Retries() int { return b.retries }

// Conflicts returns the CAS conflicts observed so far.
func (b *Budget) Conflicts() int { return b.conflicts }

// Transients returns the transient failures observed so far.
func (b *Budget) Transients() int { return b.transients }

// ElapsedMs returns wall-clock milliseconds since Begin.
func (b *Budget) ElapsedMs() float64 {
	return float64(b.policy.Clock.Now().Sub(b.start)) / float64(time.Millisecond)
}
