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
	"sync/atomic"

	"gte/internal/telemetry"
	"gte/pkg/kv"
)

// IndexWriter appends to the indexed storage shape: a lightweight round
// document carrying ordered TxnRefs, plus one TxnDetail document per
// transaction. There is no transaction manager across the pair; consistency
// comes from ordering.
//
// The protocol is detail-first. An orphan detail with no ref is benign
// garbage, recoverable by sweep; an orphan ref pointing at a missing detail
// would break readers. So the detail document is inserted before the round
// ref, and on an unrecoverable ref failure the writer compensates with a
// best-effort remove of the detail. The only allowed failure shape is
// "detail exists, ref missing".
type IndexWriter struct {
	store  kv.Store
	cfg    Config
	clock  Clock
	ids    *IDGenerator
	policy Policy

	orphans *OrphanCounter
}

// OrphanCounter tracks detail documents left behind after a failed
// compensation. Shared by writers so a run-level verdict can assert it is
// zero; normal runs must never increment it.
type OrphanCounter struct {
	n atomic.Int64
}

// Count returns the orphans recorded so far.
func (c *OrphanCounter) Count() int64 { return c.n.Load() }

func (c *OrphanCounter) inc() { c.n.Add(1) }

// NewIndexWriter wires an index writer. orphans may be shared across
// writers; pass nil to give the writer a private counter.
func NewIndexWriter(store kv.Store, cfg Config, clock Clock, ids *IDGenerator, orphans *OrphanCounter) *IndexWriter {
	if orphans == nil {
		orphans = &OrphanCounter{}
	}
	return &IndexWriter{
		store: store,
		cfg:   cfg,
		clock: clock,
		ids:   ids,
		policy: Policy{
			MaxRetries:        cfg.maxRetries(VariantIndexed),
			OperationDeadline: cfg.operationDeadline(),
			Clock:             clock,
		},
		orphans: orphans,
	}
}

// Orphans exposes the writer's orphan counter.
func (w *IndexWriter) Orphans() *OrphanCounter { return w.orphans }

// Append runs one logical indexed append: insert the detail, then append
// the ref to the round under a CAS loop, patching the detail's sequence
// number before each ref write. Round-document and detail-document retries
// are counted separately but share the single operation deadline.
func (w *IndexWriter) Append(ctx context.Context, req AppendRequest) AppendResult {
	roundBudget := w.policy.Begin()
	detailBudget := roundBudget.Sibling()
	autoID := req.TxnID == ""
	res := AppendResult{TxnID: req.TxnID}
	if autoID {
		res.TxnID = w.ids.NextTxnID(req.RoundID)
	}

	for {
		if roundBudget.Expired() {
			return w.finish(roundBudget, detailBudget, res, true, ErrDeadline)
		}

		// Step 1-2: build and insert the detail with a provisional sequence
		// number; it is finalized inside the round loop.
		detail := &TxnDetail{
			TxnID:          res.TxnID,
			RoundID:        req.RoundID,
			SequenceNumber: 0,
			Type:           req.Type,
			Amount:         req.Amount,
			Currency:       req.Currency,
			CreateTimeMs:   NowMs(w.clock),
			Status:         TxnPending,
			BetID:          req.BetID,
			SessionToken:   req.SessionToken,
			Metadata:       req.Metadata,
		}
		detailVer, err := w.insertDetail(ctx, detailBudget, detail)
		if err != nil {
			if autoID && errors.Is(err, ErrDuplicateTxn) {
				// The generated id is already taken, most likely by an
				// unreferenced FAILED detail minted in the same millisecond.
				// The caller never named it, so mint a fresh one and retry.
				res.TxnID = w.ids.NextTxnID(req.RoundID)
				continue
			}
			timedOut := errors.Is(err, ErrDeadline)
			return w.finish(roundBudget, detailBudget, res, timedOut, err)
		}

		// Step 3: round-level CAS loop.
		res, err = w.appendRef(ctx, roundBudget, detailBudget, detail, detailVer, req, res)
		if err != nil {
			// Step 4: unrecoverable ref failure. Compensate by removing the
			// detail; if that also fails we must surface the orphan.
			if !w.compensate(ctx, res.TxnID) {
				res.IndexOrphan = true
				w.orphans.inc()
				telemetry.ObserveOrphan()
			}
			if autoID && errors.Is(err, ErrDuplicateTxn) {
				// A ref with the generated id was already in the round; the
				// colliding detail has just been compensated away, so restart
				// the whole protocol under a fresh id.
				res.TxnID = w.ids.NextTxnID(req.RoundID)
				continue
			}
			timedOut := errors.Is(err, ErrDeadline)
			return w.finish(roundBudget, detailBudget, res, timedOut, err)
		}
		return w.finish(roundBudget, detailBudget, res, false, nil)
	}
}

// insertDetail inserts the provisional detail, retrying transients within
// the detail budget. An existing document for the id is a DuplicateTxn.
func (w *IndexWriter) insertDetail(ctx context.Context, budget *Budget, detail *TxnDetail) (kv.Version, error) {
	for {
		doc, err := EncodeDetail(detail)
		if err != nil {
			return kv.None, err
		}
		ver, err := w.store.Insert(ctx, detail.TxnID, doc)
		if err == nil {
			return ver, nil
		}
		if errors.Is(err, kv.ErrAlreadyExists) {
			return kv.None, ErrDuplicateTxn
		}
		if !kv.IsTransient(err) {
			return kv.None, err
		}
		budget.RecordTransient()
		if budget.Expired() {
			return kv.None, ErrDeadline
		}
		if !budget.CanRetry() {
			return kv.None, fmt.Errorf("engine: detail insert retries exhausted: %w", err)
		}
		if err := budget.SleepBeforeRetry(ctx); err != nil {
			return kv.None, err
		}
	}
}

// appendRef is the round-document CAS loop. Each attempt re-reads the
// round, assigns the next sequence number, patches the detail, then writes
// the round with the new ref appended.
func (w *IndexWriter) appendRef(ctx context.Context, roundBudget, detailBudget *Budget, detail *TxnDetail, detailVer kv.Version, req AppendRequest, res AppendResult) (AppendResult, error) {
	for {
		if roundBudget.Expired() {
			return res, ErrDeadline
		}

		raw, ver, exists, err := w.store.Get(ctx, req.RoundID)
		if err != nil {
			if retryErr := w.retryOrFail(ctx, roundBudget, err); retryErr != nil {
				return res, retryErr
			}
			continue
		}

		var round *Round
		if exists {
			round, err = DecodeRound(raw)
			if err != nil {
				return res, err
			}
			res.Operation = OpUpdate
		} else {
			round = NewRound(req.RoundID, VariantIndexed, NowMs(w.clock))
			ver = kv.None
			res.Operation = OpCreate
		}

		if round.HasTxn(res.TxnID) {
			return res, ErrDuplicateTxn
		}
		if w.cfg.MaxTxnsPerRound > 0 && len(round.Refs) >= w.cfg.MaxTxnsPerRound {
			res.BusinessRejected = true
			res.RejectReason = ReasonRoundFull
			return res, errRefuse
		}
		if round.Status != RoundActive && w.cfg.RejectOnClosedRound {
			res.BusinessRejected = true
			res.RejectReason = ReasonRoundClosed
			return res, errRefuse
		}

		seq := int64(len(round.Refs)) + 1
		status := TxnCompleted
		rejected := false
		if req.Type.Sign() < 0 && round.CurrentBalance+req.Type.Sign()*req.Amount < 0 {
			if w.cfg.BusinessRejectOnNegativeBalance {
				res.BusinessRejected = true
				res.RejectReason = ReasonNegativeBalance
				return res, errRefuse
			}
			status = TxnFailed
			rejected = true
		}

		// Patch the detail's sequence number (and final status) before the
		// ref becomes visible, so a reader following a committed ref never
		// sees a provisional detail.
		detail.SequenceNumber = seq
		detail.Status = status
		if rejected {
			detail.Metadata = withReason(detail.Metadata, ReasonNegativeBalance)
		}
		detailVer, err = w.patchDetail(ctx, detailBudget, detail, detailVer)
		if err != nil {
			return res, err
		}

		if rejected {
			// Recorded as a FAILED detail only: the ref schema has no
			// status channel, and a ref would pull the rejected amount into
			// the balance recompute. The detail keeps the attempt auditable;
			// the unreferenced document is ordinary sweepable garbage.
			res.Success = true
			res.BusinessRejected = true
			res.RejectReason = ReasonNegativeBalance
			res.RoundVersion = ver
			return res, nil
		}

		next := round.Clone()
		next.Refs = append(next.Refs, TxnRef{
			TxnID:          res.TxnID,
			SequenceNumber: seq,
			Type:           req.Type,
			Amount:         req.Amount,
			AmountStr:      FormatAmount(req.Amount),
			CreateTimeMs:   detail.CreateTimeMs,
		})
		next.LastUpdateTimeMs = NowMs(w.clock)
		next.Recompute()

		doc, err := EncodeRound(next)
		if err != nil {
			return res, err
		}
		var newVer kv.Version
		if ver == kv.None {
			newVer, err = w.store.Insert(ctx, req.RoundID, doc)
		} else {
			newVer, err = w.store.Replace(ctx, req.RoundID, doc, ver)
		}
		if err == nil {
			res.Success = true
			res.RoundVersion = newVer
			return res, nil
		}
		if retryErr := w.retryOrFail(ctx, roundBudget, err); retryErr != nil {
			return res, retryErr
		}
	}
}

// patchDetail replaces the detail with its finalized sequence number. Only
// this writer owns the detail, so a CasMismatch here is unexpected; it is
// treated as transient and the patch is retried after a re-read.
func (w *IndexWriter) patchDetail(ctx context.Context, budget *Budget, detail *TxnDetail, ver kv.Version) (kv.Version, error) {
	for {
		doc, err := EncodeDetail(detail)
		if err != nil {
			return kv.None, err
		}
		newVer, err := w.store.Replace(ctx, detail.TxnID, doc, ver)
		if err == nil {
			return newVer, nil
		}
		if errors.Is(err, kv.ErrCasMismatch) || kv.IsTransient(err) {
			budget.RecordTransient()
			if budget.Expired() {
				return kv.None, ErrDeadline
			}
			if !budget.CanRetry() {
				return kv.None, fmt.Errorf("engine: detail patch retries exhausted: %w", err)
			}
			if err := budget.SleepBeforeRetry(ctx); err != nil {
				return kv.None, err
			}
			if errors.Is(err, kv.ErrCasMismatch) {
				// Refresh the version before re-patching.
				_, cur, exists, gerr := w.store.Get(ctx, detail.TxnID)
				if gerr == nil && exists {
					ver = cur
				}
			}
			continue
		}
		return kv.None, err
	}
}

// compensate removes the detail after an unrecoverable ref failure. It
// detaches from the caller's cancellation so an expired operation deadline
// does not doom the cleanup; best effort only.
func (w *IndexWriter) compensate(ctx context.Context, txnID string) bool {
	err := w.store.Remove(context.WithoutCancel(ctx), txnID)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		return true
	}
	return false
}

// retryOrFail mirrors the embedded writer's classification for the round
// document loop.
func (w *IndexWriter) retryOrFail(ctx context.Context, budget *Budget, err error) error {
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
		return fmt.Errorf("engine: round retries exhausted: %w", err)
	}
	return budget.SleepBeforeRetry(ctx)
}

// errRefuse is an internal marker: the append was refused by a business
// rule before any round write; compensation should still remove the detail.
var errRefuse = errors.New("engine: refused by business rule")

// finish stamps accounting and telemetry, folding the internal refusal
// marker into a clean (non-error) result.
func (w *IndexWriter) finish(roundBudget, detailBudget *Budget, res AppendResult, timedOut bool, err error) AppendResult {
	if errors.Is(err, errRefuse) {
		err = nil
		res.Success = false
	}
	res.TimedOut = timedOut
	res.Err = err
	if err != nil {
		res.Success = false
	}
	res.RoundRetryCount = roundBudget.Retries()
	res.IndexRetryCount = detailBudget.Retries()
	res.TotalRetries = res.RoundRetryCount + res.IndexRetryCount
	res.RoundConflicts = roundBudget.Conflicts()
	res.IndexConflicts = detailBudget.Conflicts()
	res.TransientRetries = roundBudget.Transients() + detailBudget.Transients()
	res.ConflictResolved = res.Success && res.RoundConflicts > 0
	res.ResponseTimeMs = roundBudget.ElapsedMs()
	telemetry.ObserveAppend(string(VariantIndexed), res.Success, res.ResponseTimeMs)
	telemetry.ObserveConflicts("round", res.RoundConflicts)
	telemetry.ObserveConflicts("detail", res.IndexConflicts)
	telemetry.ObserveTransients(res.TransientRetries)
	return res
}

// withReason records the failure reason in the detail metadata without
// clobbering caller-supplied entries.
func withReason(m map[string]string, reason string) map[string]string {
	if m == nil {
		m = make(map[string]string, 1)
	}
	m["failReason"] = reason
	return m
}
