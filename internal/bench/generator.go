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

// Package bench drives the transaction engine under sustained concurrent
// load and aggregates latency, throughput and conflict telemetry into a
// single report with pass/fail verdicts.
package bench

import (
	"fmt"
	"math/rand/v2"

	"gte/internal/engine"
)

// txnCycle is the transaction type rotation each client walks through.
var txnCycle = []engine.TxnType{
	engine.TypeBet,
	engine.TypeWin,
	engine.TypeBonus,
	engine.TypeRake,
	engine.TypeJackpot,
}

// Event is one generated append input.
type Event struct {
	RoundID string
	Type    engine.TxnType
	Amount  float64
}

// SessionGenerator produces a client's infinite event stream: bursts of 3-5
// transactions per round before rotating to a fresh roundId. Amounts follow
// 10 + i*5 + U[0,50) with i the transaction ordinal within the client, so a
// fixed seed reproduces the exact stream while still exercising the balance
// path with varied values.
//
// A generator is owned by a single client goroutine and is not safe for
// concurrent use.
type SessionGenerator struct {
	runTag   string
	clientID int
	rng      *rand.Rand

	roundCounter int
	roundID      string
	roundSize    int
	inRound      int
	ordinal      int
}

// NewSessionGenerator seeds a generator for one virtual client. The client
// id doubles as the second seed word so every client draws a distinct but
// reproducible stream from the same run seed.
func NewSessionGenerator(runTag string, clientID int, seed uint64) *SessionGenerator {
	return &SessionGenerator{
		runTag:   runTag,
		clientID: clientID,
		rng:      rand.New(rand.NewPCG(seed, uint64(clientID)+1)),
	}
}

// Next returns the next event, rotating rounds every 3-5 transactions.
func (g *SessionGenerator) Next() Event {
	if g.roundID == "" || g.inRound >= g.roundSize {
		g.roundCounter++
		g.roundID = fmt.Sprintf("%s-client%d-round%d", g.runTag, g.clientID, g.roundCounter)
		g.roundSize = 3 + g.rng.IntN(3)
		g.inRound = 0
	}
	ev := Event{
		RoundID: g.roundID,
		Type:    txnCycle[g.ordinal%len(txnCycle)],
		Amount:  10.0 + float64(g.ordinal)*5.0 + g.rng.Float64()*50,
	}
	g.inRound++
	g.ordinal++
	return ev
}

// RoundIDs returns every round id the generator has opened so far, in
// order. The driver uses this for post-run consistency sampling.
func (g *SessionGenerator) RoundIDs() []string {
	ids := make([]string, 0, g.roundCounter)
	for i := 1; i <= g.roundCounter; i++ {
		ids = append(ids, fmt.Sprintf("%s-client%d-round%d", g.runTag, g.clientID, i))
	}
	return ids
}
