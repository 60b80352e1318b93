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

package bench

import (
	"fmt"
	"testing"

	"gte/internal/engine"
)

func TestGeneratorIsReproducible(t *testing.T) {
	a := NewSessionGenerator("run", 0, 42)
	b := NewSessionGenerator("run", 0, 42)
	for i := 0; i < 50; i++ {
		ea, eb := a.Next(), b.Next()
		if ea != eb {
			t.Fatalf("event %d diverged: %+v vs %+v", i, ea, eb)
		}
	}
}

func TestGeneratorClientsDiverge(t *testing.T) {
	a := NewSessionGenerator("run", 0, 42)
	b := NewSessionGenerator("run", 1, 42)
	same := 0
	for i := 0; i < 20; i++ {
		if a.Next().Amount == b.Next().Amount {
			same++
		}
	}
	if same == 20 {
		t.Fatal("distinct clients produced identical amount streams")
	}
}

func TestGeneratorRoundRotation(t *testing.T) {
	g := NewSessionGenerator("tag", 3, 7)
	perRound := make(map[string]int)
	var order []string
	for i := 0; i < 60; i++ {
		ev := g.Next()
		if perRound[ev.RoundID] == 0 {
			order = append(order, ev.RoundID)
		}
		perRound[ev.RoundID]++
	}
	for i, id := range order {
		want := fmt.Sprintf("tag-client3-round%d", i+1)
		if id != want {
			t.Fatalf("round %d id = %q, want %q", i, id, want)
		}
		// The final round may be cut short by the sample size.
		if i < len(order)-1 {
			if n := perRound[id]; n < 3 || n > 5 {
				t.Fatalf("round %q carried %d txns, want 3..5", id, n)
			}
		}
	}
	ids := g.RoundIDs()
	if len(ids) != len(order) {
		t.Fatalf("RoundIDs = %d entries, want %d", len(ids), len(order))
	}
}

func TestGeneratorTypeCycleAndAmounts(t *testing.T) {
	g := NewSessionGenerator("run", 0, 1)
	want := []engine.TxnType{
		engine.TypeBet, engine.TypeWin, engine.TypeBonus,
		engine.TypeRake, engine.TypeJackpot, engine.TypeBet,
	}
	for i, ty := range want {
		ev := g.Next()
		if ev.Type != ty {
			t.Fatalf("event %d type = %s, want %s", i, ev.Type, ty)
		}
		lo := 10 + float64(i)*5
		if ev.Amount < lo || ev.Amount >= lo+50 {
			t.Fatalf("event %d amount = %v, want [%v, %v)", i, ev.Amount, lo, lo+50)
		}
	}
}
