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
	"sync"

	"gte/internal/telemetry"
	"gte/pkg/kv"
)

// detailFanout caps concurrent detail fetches per read. Rounds normally
// carry 3-5 transactions, far below the cap; it only matters for
// pathologically large rounds.
const detailFanout = 16

// RoundView is what a read returns: the authoritative round snapshot, its
// version, and the transactions materialized. For the indexed variant the
// details are fetched by following refs; any missing detail marks the view
// degraded instead of failing the read, so callers always see the
// authoritative ref sequence.
type RoundView struct {
	Round   *Round
	Version kv.Version

	// Txns is the materialized transaction list in sequence order. For the
	// embedded variant it aliases the round's own tail; for the indexed
	// variant it is rebuilt from the fetched details, skipping missing ones.
	Txns []EmbeddedTxn

	Degraded       bool
	MissingTxnIDs  []string
	ResponseTimeMs float64
}

// Reader serves getRound for both storage shapes.
type Reader struct {
	store kv.Store
	clock Clock
}

func NewReader(store kv.Store, clock Clock) *Reader {
	return &Reader{store: store, clock: clock}
}

// GetRound fetches the round document and materializes its transactions.
// A missing round returns kv.ErrNotFound.
func (r *Reader) GetRound(ctx context.Context, roundID string) (*RoundView, error) {
	start := r.clock.Now()
	raw, ver, exists, err := r.store.Get(ctx, roundID)
	if err != nil {
		telemetry.ObserveRead("error")
		return nil, err
	}
	if !exists {
		telemetry.ObserveRead("error")
		return nil, kv.ErrNotFound
	}
	round, err := DecodeRound(raw)
	if err != nil {
		telemetry.ObserveRead("error")
		return nil, err
	}

	view := &RoundView{Round: round, Version: ver}
	if round.Variant == VariantIndexed {
		r.materializeRefs(ctx, view)
	} else {
		view.Txns = round.Transactions
	}
	view.ResponseTimeMs = float64(r.clock.Now().Sub(start).Microseconds()) / 1000
	if view.Degraded {
		telemetry.ObserveRead("degraded")
	} else {
		telemetry.ObserveRead("ok")
	}
	return view, nil
}

// materializeRefs fetches every referenced detail concurrently (bounded
// fan-out) and rebuilds the transaction list in ref order. Fetch errors are
// treated the same as missing documents: the read degrades, it does not
// fail.
func (r *Reader) materializeRefs(ctx context.Context, view *RoundView) {
	refs := view.Round.Refs
	if len(refs) == 0 {
		return
	}
	details := make([]*TxnDetail, len(refs))
	sem := make(chan struct{}, detailFanout)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			raw, _, exists, err := r.store.Get(ctx, refs[i].TxnID)
			if err != nil || !exists {
				return
			}
			d, err := DecodeDetail(raw)
			if err != nil {
				return
			}
			details[i] = d
		}(i)
	}
	wg.Wait()

	view.Txns = make([]EmbeddedTxn, 0, len(refs))
	for i := range refs {
		d := details[i]
		if d == nil {
			view.Degraded = true
			view.MissingTxnIDs = append(view.MissingTxnIDs, refs[i].TxnID)
			continue
		}
		view.Txns = append(view.Txns, EmbeddedTxn{
			ID:             d.TxnID,
			SequenceNumber: d.SequenceNumber,
			Type:           d.Type,
			Amount:         d.Amount,
			AmountStr:      d.AmountStr,
			Currency:       d.Currency,
			CreateTimeMs:   d.CreateTimeMs,
			Status:         d.Status,
			BetID:          d.BetID,
			SessionToken:   d.SessionToken,
			Metadata:       d.Metadata,
		})
	}
}
