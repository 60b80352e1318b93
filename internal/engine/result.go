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

import "gte/pkg/kv"

// Operation tells whether an append created the round document or updated
// an existing one.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
)

// AppendRequest is one transaction to append. TxnID may be empty, in which
// case the writer generates one.
type AppendRequest struct {
	RoundID      string
	TxnID        string
	Type         TxnType
	Amount       float64
	Currency     string
	BetID        string
	SessionToken string
	Metadata     map[string]string
}

// AppendResult is the record every append returns. Writers never panic or
// error through the retry loop; conflicts and transients show up only in
// the counters here.
type AppendResult struct {
	Success      bool
	TxnID        string
	RoundVersion kv.Version
	Operation    Operation

	// ConflictResolved is true when the append succeeded after at least one
	// CAS conflict.
	ConflictResolved bool

	// Retry/conflict accounting. For the embedded writer only the Round*
	// fields are populated; the indexed writer splits accounting per
	// document and TotalRetries is their sum.
	RoundRetryCount  int
	IndexRetryCount  int
	TotalRetries     int
	RoundConflicts   int
	IndexConflicts   int
	TransientRetries int

	// BusinessRejected marks an append that was recorded as a FAILED
	// transaction (or refused, depending on configuration) by a business
	// rule; RejectReason says which one.
	BusinessRejected bool
	RejectReason     string

	TimedOut bool

	// IndexOrphan is set when the indexed writer failed the ref append AND
	// the compensating detail removal also failed, leaving a sweepable
	// orphan detail behind. Must stay false in normal runs.
	IndexOrphan bool

	ResponseTimeMs float64
	Err            error
}
