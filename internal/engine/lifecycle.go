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
	"errors"
	"fmt"

	"gte/pkg/kv"
)

// Lifecycle applies explicit round status transitions (complete, cancel,
// review) through the same CAS loop the writers use. Transitions do not
// block appends by default; they just move the status field.
type Lifecycle struct {
	store  kv.Store
	clock  Clock
	policy Policy
}

func NewLifecycle(store kv.Store, cfg Config, clock Clock) *Lifecycle {
	return &Lifecycle{
		store: store,
		clock: clock,
		policy: Policy{
			MaxRetries:        cfg.maxRetries(VariantEmbedded),
			OperationDeadline: cfg.operationDeadline(),
			Clock:             clock,
		},
	}
}

// Complete marks the round COMPLETED.
func (l *Lifecycle) Complete(ctx context.Context, roundID string) error {
	return l.transition(ctx, roundID, RoundCompleted)
}

// Cancel marks the round CANCELLED.
func (l *Lifecycle) Cancel(ctx context.Context, roundID string) error {
	return l.transition(ctx, roundID, RoundCancelled)
}

// MarkUnderReview flags the round for manual review.
func (l *Lifecycle) MarkUnderReview(ctx context.Context, roundID string) error {
	return l.transition(ctx, roundID, RoundUnderReview)
}

func (l *Lifecycle) transition(ctx context.Context, roundID string, status RoundStatus) error {
	budget := l.policy.Begin()
	for {
		if budget.Expired() {
			return ErrDeadline
		}
		raw, ver, exists, err := l.store.Get(ctx, roundID)
		if err == nil && !exists {
			return kv.ErrNotFound
		}
		if err == nil {
			var round *Round
			round, err = DecodeRound(raw)
			if err != nil {
				return err
			}
			if round.Status == status {
				return nil // idempotent
			}
			round.Status = status
			round.LastUpdateTimeMs = NowMs(l.clock)
			var doc []byte
			doc, err = EncodeRound(round)
			if err != nil {
				return err
			}
			_, err = l.store.Replace(ctx, roundID, doc, ver)
			if err == nil {
				return nil
			}
		}
		switch {
		case kv.IsConflict(err):
			budget.RecordConflict()
		case kv.IsTransient(err):
			budget.RecordTransient()
		default:
			return err
		}
		if budget.Expired() {
			return ErrDeadline
		}
		if !budget.CanRetry() {
			return fmt.Errorf("engine: transition retries exhausted: %w", err)
		}
		if err := budget.SleepBeforeRetry(ctx); err != nil {
			return err
		}
	}
}

// SweepOrphans deletes candidate detail documents whose round does not
// reference them. The indexed protocol is detail-first, so an unreferenced
// detail is benign garbage; this is an admin convenience, not part of the
// append path. Returns the number of details removed.
func SweepOrphans(ctx context.Context, store kv.Store, candidates []string) (int, error) {
	removed := 0
	for _, txnID := range candidates {
		raw, _, exists, err := store.Get(ctx, txnID)
		if err != nil {
			return removed, fmt.Errorf("engine: sweep get %s: %w", txnID, err)
		}
		if !exists {
			continue
		}
		detail, err := DecodeDetail(raw)
		if err != nil {
			return removed, err
		}
		referenced, err := refExists(ctx, store, detail)
		if err != nil {
			return removed, err
		}
		if referenced {
			continue
		}
		if err := store.Remove(ctx, txnID); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func refExists(ctx context.Context, store kv.Store, detail *TxnDetail) (bool, error) {
	raw, _, exists, err := store.Get(ctx, detail.RoundID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	round, err := DecodeRound(raw)
	if err != nil {
		return false, err
	}
	for i := range round.Refs {
		if round.Refs[i].TxnID == detail.TxnID {
			return true, nil
		}
	}
	return false, nil
}
