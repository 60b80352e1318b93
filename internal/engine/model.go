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

// Package engine implements the low-latency gaming transaction core: game
// rounds stored in an external CAS-capable key-value store, appended to by
// optimistic read-modify-write loops.
//
// This file holds the document model. Rounds come in two storage shapes
// sharing one struct: the embedded variant carries its transactions inline,
// the indexed variant carries lightweight refs with one detail document per
// transaction. In-process Round values are short-lived snapshots; the only
// authoritative copy lives in the store.
package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TxnType enumerates the financial event kinds a round can record.
type TxnType string

const (
	TypeBet     TxnType = "BET"
	TypeWin     TxnType = "WIN"
	TypeBonus   TxnType = "BONUS"
	TypeRefund  TxnType = "REFUND"
	TypeCashout TxnType = "CASHOUT"
	TypeRake    TxnType = "RAKE"
	TypeJackpot TxnType = "JACKPOT"
	TypeFee     TxnType = "FEE"
)

// Sign returns +1 for credits (WIN, REFUND, BONUS, JACKPOT) and -1 for
// debits (BET, FEE, RAKE, CASHOUT). Unknown types count as zero so a
// corrupted type cannot move the balance.
func (t TxnType) Sign() float64 {
	switch t {
	case TypeWin, TypeRefund, TypeBonus, TypeJackpot:
		return 1
	case TypeBet, TypeFee, TypeRake, TypeCashout:
		return -1
	}
	return 0
}

// RoundStatus is the round lifecycle state.
type RoundStatus string

const (
	RoundActive      RoundStatus = "ACTIVE"
	RoundCompleted   RoundStatus = "COMPLETED"
	RoundCancelled   RoundStatus = "CANCELLED"
	RoundUnderReview RoundStatus = "UNDER_REVIEW"
)

// TxnStatus is the per-transaction state. A transaction is created PENDING
// and moves to COMPLETED or FAILED within the same append.
type TxnStatus string

const (
	TxnPending   TxnStatus = "PENDING"
	TxnCompleted TxnStatus = "COMPLETED"
	TxnFailed    TxnStatus = "FAILED"
)

// Variant names the storage shape of a round document.
type Variant string

const (
	VariantEmbedded Variant = "embedded"
	VariantIndexed  Variant = "indexed"
)

// EmbeddedTxn is a transaction stored inline in an embedded-variant round.
// Amounts carry a numeric and a fixed-two-decimal string form; the string
// form wins on decode when both are present and disagree (compliance
// tooling treats it as authoritative).
type EmbeddedTxn struct {
	ID             string            `json:"id"`
	SequenceNumber int64             `json:"sequenceNumber"`
	Type           TxnType           `json:"type"`
	Amount         float64           `json:"amount"`
	AmountStr      string            `json:"amountStr,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	CreateTimeMs   int64             `json:"createTimeMs"`
	Status         TxnStatus         `json:"status"`
	BalanceAfter   float64           `json:"balanceAfter,omitempty"`
	FailReason     string            `json:"failReason,omitempty"`
	BetID          string            `json:"betId,omitempty"`
	SessionToken   string            `json:"sessionToken,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TxnRef is the lightweight reference an indexed-variant round keeps per
// transaction. The full record lives in the TxnDetail document.
type TxnRef struct {
	TxnID          string  `json:"txnId"`
	SequenceNumber int64   `json:"sequenceNumber"`
	Type           TxnType `json:"type"`
	Amount         float64 `json:"amount"`
	AmountStr      string  `json:"amountStr,omitempty"`
	CreateTimeMs   int64   `json:"createTimeMs"`
}

// TxnDetail is the standalone per-transaction document of the indexed
// variant, keyed by TxnID. Never mutated after its sequence number is
// finalized.
type TxnDetail struct {
	TxnID          string            `json:"txnId"`
	RoundID        string            `json:"roundId"`
	SequenceNumber int64             `json:"sequenceNumber"`
	Type           TxnType           `json:"type"`
	Amount         float64           `json:"amount"`
	AmountStr      string            `json:"amountStr,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	CreateTimeMs   int64             `json:"createTimeMs"`
	Status         TxnStatus         `json:"status"`
	BetID          string            `json:"betId,omitempty"`
	SessionToken   string            `json:"sessionToken,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RoundSummary is derived on every append from the embedded transactions.
type RoundSummary struct {
	TotalTransactions int64   `json:"totalTransactions"`
	TotalBets         int64   `json:"totalBets"`
	TotalWins         int64   `json:"totalWins"`
	NetAmount         float64 `json:"netAmount"`
}

// RoundMetrics is derived on every indexed append from the refs.
type RoundMetrics struct {
	TotalRefs     int64   `json:"totalRefs"`
	TotalVolume   float64 `json:"totalVolume"`
	LargestAmount float64 `json:"largestAmount"`
	LastTxnTimeMs int64   `json:"lastTxnTimeMs"`
}

// ComplianceInfo is informational metadata only; it never participates in
// the concurrency or durability protocol.
type ComplianceInfo struct {
	LargeTxnCount  int64  `json:"largeTxnCount"`
	TotalVolumeStr string `json:"totalVolumeStr,omitempty"`
}

// largeTxnThreshold marks a single transaction as reportable for the
// compliance counter.
const largeTxnThreshold = 1000.0

// RiskAssessment is an informational per-round risk decoration recomputed
// from the refs on each indexed append.
type RiskAssessment struct {
	Level string  `json:"level"` // LOW | MEDIUM | HIGH
	Score float64 `json:"score"`
}

// Round is a short-lived snapshot of a round document. Transactions is
// populated for the embedded variant, Refs for the indexed variant; the
// document shape distinguishes the two (both live in the same key space).
type Round struct {
	RoundID           string      `json:"roundId"`
	Variant           Variant     `json:"variant"`
	PlayerID          string      `json:"playerId,omitempty"`
	OperatorID        string      `json:"operatorId,omitempty"`
	VendorID          string      `json:"vendorId,omitempty"`
	Currency          string      `json:"currency,omitempty"`
	InitialBalance    float64     `json:"initialBalance"`
	InitialBalanceStr string      `json:"initialBalanceStr,omitempty"`
	CurrentBalance    float64     `json:"currentBalance"`
	CurrentBalanceStr string      `json:"currentBalanceStr,omitempty"`
	Status            RoundStatus `json:"status"`
	CreateTimeMs      int64       `json:"createTimeMs"`
	LastUpdateTimeMs  int64       `json:"lastUpdateTimeMs"`

	Transactions []EmbeddedTxn `json:"transactions,omitempty"`
	Summary      RoundSummary  `json:"summary"`

	Refs       []TxnRef        `json:"txnRefs,omitempty"`
	Metrics    *RoundMetrics   `json:"metrics,omitempty"`
	Compliance *ComplianceInfo `json:"compliance,omitempty"`
	Risk       *RiskAssessment `json:"riskAssessment,omitempty"`
}

// FormatAmount renders the fixed-two-decimal string form of an amount.
func FormatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', 2, 64)
}

// resolveAmount applies the decode rule: prefer the string form when it is
// present, parseable and disagrees with the numeric form.
func resolveAmount(num float64, str string) float64 {
	if str == "" {
		return num
	}
	parsed, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return num
	}
	return parsed
}

// NewRound returns a fresh ACTIVE round snapshot for the given variant with
// an empty tail, ready for its first append.
func NewRound(roundID string, variant Variant, nowMs int64) *Round {
	return &Round{
		RoundID:           roundID,
		Variant:           variant,
		Currency:          "USD",
		InitialBalanceStr: FormatAmount(0),
		CurrentBalanceStr: FormatAmount(0),
		Status:            RoundActive,
		CreateTimeMs:      nowMs,
		LastUpdateTimeMs:  nowMs,
	}
}

// Recompute rebuilds every derived field from the authoritative tail: the
// summary and balance from embedded transactions (signed sum over COMPLETED
// entries, never incremental patching), and metrics/compliance/risk from
// refs for the indexed variant.
func (r *Round) Recompute() {
	sum := RoundSummary{}
	balance := r.InitialBalance
	for i := range r.Transactions {
		t := &r.Transactions[i]
		sum.TotalTransactions++
		switch t.Type {
		case TypeBet:
			sum.TotalBets++
		case TypeWin:
			sum.TotalWins++
		}
		if t.Status == TxnCompleted {
			amt := resolveAmount(t.Amount, t.AmountStr)
			sum.NetAmount += t.Type.Sign() * amt
			balance += t.Type.Sign() * amt
		}
	}
	r.Summary = sum

	if r.Variant == VariantIndexed {
		m := RoundMetrics{}
		c := ComplianceInfo{}
		for i := range r.Refs {
			ref := &r.Refs[i]
			amt := resolveAmount(ref.Amount, ref.AmountStr)
			m.TotalRefs++
			m.TotalVolume += amt
			if amt > m.LargestAmount {
				m.LargestAmount = amt
			}
			if ref.CreateTimeMs > m.LastTxnTimeMs {
				m.LastTxnTimeMs = ref.CreateTimeMs
			}
			if amt >= largeTxnThreshold {
				c.LargeTxnCount++
			}
			balance += ref.Type.Sign() * amt
		}
		c.TotalVolumeStr = FormatAmount(m.TotalVolume)
		r.Metrics = &m
		r.Compliance = &c
		r.Risk = assessRisk(&m, &c)
	}

	r.CurrentBalance = balance
	r.CurrentBalanceStr = FormatAmount(balance)
}

// assessRisk derives the informational risk level from volume and the
// large-transaction count. Purely decorative; never consulted by writers.
func assessRisk(m *RoundMetrics, c *ComplianceInfo) *RiskAssessment {
	score := m.TotalVolume / 100
	if c.LargeTxnCount > 0 {
		score += float64(c.LargeTxnCount) * 25
	}
	level := "LOW"
	switch {
	case score >= 100:
		level = "HIGH"
	case score >= 25:
		level = "MEDIUM"
	}
	return &RiskAssessment{Level: level, Score: score}
}

// HasTxn reports whether the round tail already carries the given id, in
// either variant.
func (r *Round) HasTxn(id string) bool {
	for i := range r.Transactions {
		if r.Transactions[i].ID == id {
			return true
		}
	}
	for i := range r.Refs {
		if r.Refs[i].TxnID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so the CAS loop can mutate a private snapshot
// per attempt.
func (r *Round) Clone() *Round {
	cp := *r
	if r.Transactions != nil {
		cp.Transactions = make([]EmbeddedTxn, len(r.Transactions))
		copy(cp.Transactions, r.Transactions)
	}
	if r.Refs != nil {
		cp.Refs = make([]TxnRef, len(r.Refs))
		copy(cp.Refs, r.Refs)
	}
	if r.Metrics != nil {
		m := *r.Metrics
		cp.Metrics = &m
	}
	if r.Compliance != nil {
		c := *r.Compliance
		cp.Compliance = &c
	}
	if r.Risk != nil {
		rk := *r.Risk
		cp.Risk = &rk
	}
	return &cp
}

// EncodeRound serializes a round snapshot to its canonical JSON document,
// refreshing the string forms of the balances first.
func EncodeRound(r *Round) ([]byte, error) {
	r.InitialBalanceStr = FormatAmount(r.InitialBalance)
	r.CurrentBalanceStr = FormatAmount(r.CurrentBalance)
	return json.Marshal(r)
}

// DecodeRound parses a round document and applies the string-form
// preference rule to its balances.
func DecodeRound(data []byte) (*Round, error) {
	var r Round
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("engine: decode round: %w", err)
	}
	r.InitialBalance = resolveAmount(r.InitialBalance, r.InitialBalanceStr)
	r.CurrentBalance = resolveAmount(r.CurrentBalance, r.CurrentBalanceStr)
	return &r, nil
}

// EncodeDetail serializes a transaction detail document.
func EncodeDetail(d *TxnDetail) ([]byte, error) {
	d.AmountStr = FormatAmount(d.Amount)
	return json.Marshal(d)
}

// DecodeDetail parses a transaction detail document.
func DecodeDetail(data []byte) (*TxnDetail, error) {
	var d TxnDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("engine: decode detail: %w", err)
	}
	d.Amount = resolveAmount(d.Amount, d.AmountStr)
	return &d, nil
}
