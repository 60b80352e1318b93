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
	"strings"
	"testing"
)

func TestTxnTypeSign(t *testing.T) {
	credits := []TxnType{TypeWin, TypeRefund, TypeBonus, TypeJackpot}
	debits := []TxnType{TypeBet, TypeFee, TypeRake, TypeCashout}
	for _, ty := range credits {
		if ty.Sign() != 1 {
			t.Errorf("%s sign = %v, want +1", ty, ty.Sign())
		}
	}
	for _, ty := range debits {
		if ty.Sign() != -1 {
			t.Errorf("%s sign = %v, want -1", ty, ty.Sign())
		}
	}
	if TxnType("GARBAGE").Sign() != 0 {
		t.Error("unknown type must not move the balance")
	}
}

func TestRecomputeEmbeddedBalance(t *testing.T) {
	r := NewRound("r1", VariantEmbedded, 1000)
	r.InitialBalance = 100
	r.Transactions = []EmbeddedTxn{
		{ID: "a", SequenceNumber: 1, Type: TypeBet, Amount: 30, Status: TxnCompleted},
		{ID: "b", SequenceNumber: 2, Type: TypeWin, Amount: 50, Status: TxnCompleted},
		{ID: "c", SequenceNumber: 3, Type: TypeBet, Amount: 20, Status: TxnFailed},
	}
	r.Recompute()

	if r.CurrentBalance != 120 {
		t.Fatalf("balance = %v, want 120 (FAILED txns excluded)", r.CurrentBalance)
	}
	if r.Summary.TotalTransactions != 3 || r.Summary.TotalBets != 2 || r.Summary.TotalWins != 1 {
		t.Fatalf("summary = %+v", r.Summary)
	}
	if r.Summary.NetAmount != 20 {
		t.Fatalf("net = %v, want 20", r.Summary.NetAmount)
	}
}

func TestRecomputePrefersAmountString(t *testing.T) {
	r := NewRound("r1", VariantEmbedded, 1000)
	// Numeric and string forms disagree; the string form wins.
	r.Transactions = []EmbeddedTxn{
		{ID: "a", Type: TypeWin, Amount: 10.5, AmountStr: "12.00", Status: TxnCompleted},
	}
	r.Recompute()
	if r.CurrentBalance != 12 {
		t.Fatalf("balance = %v, want 12", r.CurrentBalance)
	}

	// An unparseable string falls back to the numeric form.
	r.Transactions[0].AmountStr = "not-a-number"
	r.Recompute()
	if r.CurrentBalance != 10.5 {
		t.Fatalf("balance = %v, want 10.5", r.CurrentBalance)
	}
}

func TestRecomputeIndexedDerivations(t *testing.T) {
	r := NewRound("r1", VariantIndexed, 1000)
	r.Refs = []TxnRef{
		{TxnID: "a", SequenceNumber: 1, Type: TypeWin, Amount: 1500, CreateTimeMs: 10},
		{TxnID: "b", SequenceNumber: 2, Type: TypeBet, Amount: 200, CreateTimeMs: 20},
	}
	r.Recompute()

	if r.CurrentBalance != 1300 {
		t.Fatalf("balance = %v, want 1300", r.CurrentBalance)
	}
	if r.Metrics == nil || r.Metrics.TotalRefs != 2 || r.Metrics.TotalVolume != 1700 {
		t.Fatalf("metrics = %+v", r.Metrics)
	}
	if r.Metrics.LargestAmount != 1500 || r.Metrics.LastTxnTimeMs != 20 {
		t.Fatalf("metrics = %+v", r.Metrics)
	}
	if r.Compliance == nil || r.Compliance.LargeTxnCount != 1 {
		t.Fatalf("compliance = %+v", r.Compliance)
	}
	if r.Compliance.TotalVolumeStr != "1700.00" {
		t.Fatalf("volume str = %q", r.Compliance.TotalVolumeStr)
	}
	// 1700/100 + 1*25 = 42 -> MEDIUM.
	if r.Risk == nil || r.Risk.Level != "MEDIUM" {
		t.Fatalf("risk = %+v", r.Risk)
	}
}

func TestDecodeRoundPrefersBalanceString(t *testing.T) {
	doc := []byte(`{"roundId":"r1","variant":"embedded","currentBalance":5,"currentBalanceStr":"99.00","status":"ACTIVE"}`)
	r, err := DecodeRound(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.CurrentBalance != 99 {
		t.Fatalf("balance = %v, want 99", r.CurrentBalance)
	}
}

func TestEncodeRoundRefreshesBalanceStrings(t *testing.T) {
	r := NewRound("r1", VariantEmbedded, 1000)
	r.CurrentBalance = 42.5
	doc, err := EncodeRound(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(doc), `"currentBalanceStr":"42.50"`) {
		t.Fatalf("doc missing refreshed balance string: %s", doc)
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := NewRound("r1", VariantIndexed, 1000)
	r.Refs = []TxnRef{{TxnID: "a", SequenceNumber: 1, Type: TypeWin, Amount: 10}}
	r.Recompute()

	cp := r.Clone()
	cp.Refs = append(cp.Refs, TxnRef{TxnID: "b", SequenceNumber: 2, Type: TypeWin, Amount: 20})
	cp.Refs[0].Amount = 999
	cp.Metrics.TotalVolume = 999

	if len(r.Refs) != 1 || r.Refs[0].Amount != 10 {
		t.Fatalf("clone mutated the original refs: %+v", r.Refs)
	}
	if r.Metrics.TotalVolume == 999 {
		t.Fatal("clone shares metrics with the original")
	}
}

func TestHasTxnBothVariants(t *testing.T) {
	r := NewRound("r1", VariantEmbedded, 1000)
	r.Transactions = []EmbeddedTxn{{ID: "a"}}
	if !r.HasTxn("a") || r.HasTxn("b") {
		t.Fatal("embedded HasTxn wrong")
	}
	ri := NewRound("r2", VariantIndexed, 1000)
	ri.Refs = []TxnRef{{TxnID: "x"}}
	if !ri.HasTxn("x") || ri.HasTxn("y") {
		t.Fatal("indexed HasTxn wrong")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[float64]string{
		0:         "0.00",
		12.5:      "12.50",
		1700:      "1700.00",
		0.1 + 0.2: "0.30",
	}
	for in, want := range cases {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestIDGeneratorFormat(t *testing.T) {
	g := NewSeededIDGenerator(SystemClock{}, 7, 8)
	id := g.NextTxnID("round-1")
	if !strings.HasPrefix(id, "TXN_round-1_") {
		t.Fatalf("id = %q, want TXN_round-1_ prefix", id)
	}
	parts := strings.Split(strings.TrimPrefix(id, "TXN_round-1_"), "_")
	if len(parts) != 2 || len(parts[1]) != 4 {
		t.Fatalf("id = %q, want millis and a 4-digit suffix", id)
	}
}
