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

import "errors"

// Engine-level error kinds. Conflicts and transients never escape the retry
// loop (they surface only through counters); these are the kinds a caller
// can actually observe on an AppendResult.
var (
	// ErrDuplicateTxn: the transaction id is already present in the round
	// (or a detail document already exists for it). Non-retryable.
	ErrDuplicateTxn = errors.New("engine: duplicate transaction id")

	// ErrDeadline: the operation deadline elapsed before the append could
	// commit, inclusive of all retries.
	ErrDeadline = errors.New("engine: operation deadline exceeded")
)

// Business-rejection reasons recorded on FAILED transactions.
const (
	ReasonNegativeBalance = "negative_balance"
	ReasonRoundFull       = "round_full"
	ReasonRoundClosed     = "round_closed"
)
