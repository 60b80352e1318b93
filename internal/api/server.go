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

// Package api implements the thin HTTP surface over the transaction
// engine: append a transaction, read a round, transition a round's
// lifecycle. Transport concerns stay here; the engine packages never see
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gte/internal/engine"
	"gte/pkg/kv"
)

// Appender is the writer surface the server needs; both engine writers
// satisfy it.
type Appender interface {
	Append(ctx context.Context, req engine.AppendRequest) engine.AppendResult
}

// Server handles the HTTP requests for the transaction engine.
type Server struct {
	writer    Appender
	reader    *engine.Reader
	lifecycle *engine.Lifecycle
}

// NewServer wires a server over an already-constructed writer, reader and
// lifecycle manager.
func NewServer(writer Appender, reader *engine.Reader, lifecycle *engine.Lifecycle) *Server {
	return &Server{writer: writer, reader: reader, lifecycle: lifecycle}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/txn", s.handleAppend)
	mux.HandleFunc("/round", s.handleGetRound)
	mux.HandleFunc("/round/complete", s.handleTransition(s.lifecycle.Complete))
	mux.HandleFunc("/round/cancel", s.handleTransition(s.lifecycle.Cancel))
}

// appendPayload is the POST /txn request body.
type appendPayload struct {
	RoundID      string  `json:"roundId"`
	TxnID        string  `json:"txnId,omitempty"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency,omitempty"`
	BetID        string  `json:"betId,omitempty"`
	SessionToken string  `json:"sessionToken,omitempty"`
}

// appendResponse mirrors the engine's AppendResult with a JSON-friendly
// error field.
type appendResponse struct {
	Success          bool    `json:"success"`
	TxnID            string  `json:"txnId"`
	RoundVersion     uint64  `json:"roundVersion"`
	Operation        string  `json:"operation,omitempty"`
	ConflictResolved bool    `json:"conflictResolved"`
	RetryCount       int     `json:"retryCount"`
	BusinessRejected bool    `json:"businessRejected,omitempty"`
	RejectReason     string  `json:"rejectReason,omitempty"`
	TimedOut         bool    `json:"timedOut,omitempty"`
	ResponseTimeMs   float64 `json:"responseTimeMs"`
	Error            string  `json:"error,omitempty"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var p appendPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if p.RoundID == "" || p.Type == "" {
		http.Error(w, "roundId and type are required", http.StatusBadRequest)
		return
	}
	if p.Amount < 0 {
		http.Error(w, "amount must be nonnegative", http.StatusBadRequest)
		return
	}

	res := s.writer.Append(r.Context(), engine.AppendRequest{
		RoundID:      p.RoundID,
		TxnID:        p.TxnID,
		Type:         engine.TxnType(p.Type),
		Amount:       p.Amount,
		Currency:     p.Currency,
		BetID:        p.BetID,
		SessionToken: p.SessionToken,
	})

	resp := appendResponse{
		Success:          res.Success,
		TxnID:            res.TxnID,
		RoundVersion:     uint64(res.RoundVersion),
		Operation:        string(res.Operation),
		ConflictResolved: res.ConflictResolved,
		RetryCount:       res.TotalRetries,
		BusinessRejected: res.BusinessRejected,
		RejectReason:     res.RejectReason,
		TimedOut:         res.TimedOut,
		ResponseTimeMs:   res.ResponseTimeMs,
	}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		switch {
		case errors.Is(res.Err, engine.ErrDuplicateTxn):
			status = http.StatusConflict
		case errors.Is(res.Err, engine.ErrDeadline):
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	roundID := r.URL.Query().Get("roundId")
	if roundID == "" {
		http.Error(w, "roundId is required", http.StatusBadRequest)
		return
	}
	view, err := s.reader.GetRound(r.Context(), roundID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			http.Error(w, "round not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("X-Round-Version", strconv.FormatUint(uint64(view.Version), 10))
	if view.Degraded {
		w.Header().Set("X-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, struct {
		Round         *engine.Round        `json:"round"`
		Txns          []engine.EmbeddedTxn `json:"transactions"`
		Degraded      bool                 `json:"degraded,omitempty"`
		MissingTxnIDs []string             `json:"missingTxnIds,omitempty"`
	}{view.Round, view.Txns, view.Degraded, view.MissingTxnIDs})
}

func (s *Server) handleTransition(fn func(ctx context.Context, roundID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		roundID := r.URL.Query().Get("roundId")
		if roundID == "" {
			http.Error(w, "roundId is required", http.StatusBadRequest)
			return
		}
		if err := fn(r.Context(), roundID); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				http.Error(w, "round not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server on the specified address with sane
// timeouts.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("Transaction engine API listening on %s\n", addr)
	return httpServer.ListenAndServe()
}
