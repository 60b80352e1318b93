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
	"fmt"

	"gte/internal/telemetry"
	"gte/pkg/kv"
)

// EmbeddedWriter appends transactions to single self-describing round
// documents: the whole round, transactions included, is one value updated
// atomically per append via CAS.
//
// The append is a READ -> MUTATE -> WRITE loop. Each attempt reads a fresh
// snapshot, applies the transaction as a pure mutation on that private
// snapshot, and writes back guarded by the version it read. A first append
// races other creators through Insert; the loser of that race re-enters
// READ rather than failing, because the round now exists and the append can
// proceed as a Replace.
type EmbeddedWriter struct {
	store  kv.Store
	cfg    Config
	clock  Clock
	ids    *IDGenerator
	policy Policy
}

// NewEmbeddedWriter wires the writer's collaborators explicitly: the KV
// contract, configuration, a clock, and an id generator.
func NewEmbeddedWriter(store kv.Store, cfg Config, clock Clock, ids *IDGenerator) *EmbeddedWriter {
	return &EmbeddedWriter{
		store: store,
		cfg:   cfg,
		clock: clock,
		ids:   ids,
		policy: Policy{
			MaxRetries:        cfg.maxRetries(VariantEmbedded),
			OperationDeadline: cfg.operationDeadline(),
			Clock:             clock,
		},
	}
}

// Append runs one logical append against the round named by req. It never
// returns through a panic and never surfaces conflicts or transients as
// errors; those are resolved locally and reported via counters on the
// result.
func (w *EmbeddedWriter) Append(ctx context.Context, req AppendRequest) AppendResult {
	budget := w.policy.Begin()
	autoID := req.TxnID == ""
	res := AppendResult{TxnID: req.TxnID}
	if autoID {
		res.TxnID = w.ids.NextTxnID(req.RoundID)
	}

	for {
		if budget.Expired() {
			return w.finish(budget, res, true, ErrDeadline)
		}

		// READ
		raw, ver, exists, err := w.store.Get(ctx, req.RoundID)
		if err != nil {
			if retryErr := w.retryOrFail(ctx, budget, err); retryErr != nil {
				timedOut := retryErr == ErrDeadline
				return w.finish(budget, res, timedOut, retryErr)
			}
			continue
		}

		var round *Round
		if exists {
			round, err = DecodeRound(raw)
			if err != nil {
				// Corrupted value: fatal for this operation.
				return w.finish(budget, res, false, err)
			}
			res.Operation = OpUpdate
		} else {
			round = NewRound(req.RoundID, VariantEmbedded, NowMs(w.clock))
			ver = kv.None
			res.Operation = OpCreate
		}

		if round.HasTxn(res.TxnID) {
			if !autoID {
				return w.finish(budget, res, false, ErrDuplicateTxn)
			}
			// A generated id collided with one already in the tail (same
			// millisecond, same 4-digit suffix). The caller never named it,
			// so mint a fresh one instead of failing the append.
			for round.HasTxn(res.TxnID) {
				res.TxnID = w.ids.NextTxnID(req.RoundID)
			}
		}

		// MUTATE on a private snapshot.
		next := round.Clone()
		reject, refused := w.mutate(next, req, res.TxnID)
		if refused {
			res.BusinessRejected = true
			res.RejectReason = reject
			return w.finish(budget, res, false, nil)
		}
		res.BusinessRejected = reject != ""
		res.RejectReason = reject

		doc, err := EncodeRound(next)
		if err != nil {
			return w.finish(budget, res, false, err)
		}

		// WRITE: insert for a fresh round, CAS replace otherwise.
		var newVer kv.Version
		if ver == kv.None {
			newVer, err = w.store.Insert(ctx, req.RoundID, doc)
		} else {
			newVer, err = w.store.Replace(ctx, req.RoundID, doc, ver)
		}
		if err == nil {
			res.Success = true
			res.RoundVersion = newVer
			return w.finish(budget, res, false, nil)
		}
		if retryErr := w.retryOrFail(ctx, budget, err); retryErr != nil {
			timedOut := retryErr == ErrDeadline
			return w.finish(budget, res, timedOut, retryErr)
		}
	}
}

// mutate appends the transaction to the snapshot, applying the business
// rules. It returns a rejection reason (empty when the append is clean)
// and whether the write should be refused entirely instead of recorded.
func (w *EmbeddedWriter) mutate(round *Round, req AppendRequest, txnID string) (string, bool) {
	nowMs := NowMs(w.clock)

	if w.cfg.MaxTxnsPerRound > 0 && len(round.Transactions) >= w.cfg.MaxTxnsPerRound {
		return ReasonRoundFull, true
	}
	if round.Status != RoundActive && w.cfg.RejectOnClosedRound {
		return ReasonRoundClosed, true
	}

	txn := EmbeddedTxn{
		ID:             txnID,
		SequenceNumber: int64(len(round.Transactions)) + 1,
		Type:           req.Type,
		Amount:         req.Amount,
		AmountStr:      FormatAmount(req.Amount),
		Currency:       req.Currency,
		CreateTimeMs:   nowMs,
		Status:         TxnPending,
		BetID:          req.BetID,
		SessionToken:   req.SessionToken,
		Metadata:       req.Metadata,
	}

	reason := ""
	if req.Type.Sign() < 0 && round.CurrentBalance+req.Type.Sign()*req.Amount < 0 {
		if w.cfg.BusinessRejectOnNegativeBalance {
			return ReasonNegativeBalance, true
		}
		// Default policy: record the attempt as FAILED so it is auditable.
		txn.Status = TxnFailed
		txn.FailReason = ReasonNegativeBalance
		reason = ReasonNegativeBalance
	} else {
		txn.Status = TxnCompleted
	}

	round.Transactions = append(round.Transactions, txn)
	round.LastUpdateTimeMs = nowMs
	round.Recompute()
	if txn.Status == TxnCompleted {
		round.Transactions[len(round.Transactions)-1].BalanceAfter = round.CurrentBalance
	}
	return reason, false
}

// retryOrFail classifies a store error. Conflicts and transients consume
// budget and sleep; the nil return means "retry now". Any other error, an
// exhausted budget, or an expired deadline is final.
func (w *EmbeddedWriter) retryOrFail(ctx context.Context, budget *Budget, err error) error {
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
		return fmt.Errorf("engine: retries exhausted: %w", err)
	}
	return budget.SleepBeforeRetry(ctx)
}

// finish stamps the accounting fields and emits telemetry.
func (w *EmbeddedWriter) finish(budget *Budget, res AppendResult, timedOut bool, err error) AppendResult {
	res.TimedOut = timedOut
	res.Err = err
	if err != nil {
		res.Success = false
	}
	res.RoundRetryCount = budget.Retries()
	res.TotalRetries = budget.Retries()
	res.RoundConflicts = budget.Conflicts()
	res.TransientRetries = budget.Transients()
	res.ConflictResolved = res.Success && budget.Conflicts() > 0
	res.ResponseTimeMs = budget.ElapsedMs()
	telemetry.ObserveAppend(string(VariantEmbedded), res.Success, res.ResponseTimeMs)
	telemetry.ObserveConflicts("round", budget.Conflicts())
	telemetry.ObserveTransients(budget.Transients())
	return res
}
