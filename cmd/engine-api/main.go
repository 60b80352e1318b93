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

// Package main serves the transaction engine over HTTP: POST /txn appends
// a transaction, GET /round reads a round with its transactions
// materialized, POST /round/complete and /round/cancel drive the round
// lifecycle. The store defaults to in-memory so the server runs without
// infrastructure; use -store=redis for a durable backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gte/internal/api"
	"gte/internal/engine"
	"gte/internal/telemetry"
	"gte/pkg/kv"
)

func main() {
	var (
		httpAddr    = flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
		mode        = flag.String("mode", "embedded", "Storage shape for appends: embedded|indexed")
		maxRetries  = flag.Int("max_retries", 0, "CAS retries per document (0 = per-mode default)")
		opDeadline  = flag.Duration("op_deadline", 50*time.Millisecond, "Operation deadline per append, retries included")
		rejectNeg   = flag.Bool("reject_negative_balance", false, "Refuse debits that would drive the balance negative")
		storeKind   = flag.String("store", "memory", "Backing store: memory|redis")
		redisAddr   = flag.String("redis_addr", "127.0.0.1:6379", "Redis address when -store=redis")
		connTimeout = flag.Duration("kv_connect_timeout", 10*time.Second, "KV store connect timeout")
		opTimeout   = flag.Duration("kv_op_timeout", 1500*time.Millisecond, "KV store per-operation timeout")
		metricsAddr = flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address")
	)
	flag.Parse()

	variant := engine.Variant(*mode)
	if variant != engine.VariantEmbedded && variant != engine.VariantIndexed {
		fmt.Println("-mode must be embedded or indexed")
		os.Exit(2)
	}
	if *metricsAddr != "" {
		telemetry.StartMetricsEndpoint(*metricsAddr)
	}

	var store kv.Store
	switch *storeKind {
	case "memory":
		store = kv.NewMemoryStore()
	case "redis":
		rs := kv.NewRedisStore(kv.RedisConfig{
			Addr:           *redisAddr,
			ConnectTimeout: *connTimeout,
			OpTimeout:      *opTimeout,
		})
		defer rs.Close()
		store = rs
	default:
		fmt.Println("-store must be memory or redis")
		os.Exit(2)
	}

	clock := engine.SystemClock{}
	ids := engine.NewIDGenerator(clock)
	cfg := engine.Config{
		WriterMode:                      variant,
		BusinessRejectOnNegativeBalance: *rejectNeg,
	}.WithDeadline(*opDeadline)
	if *maxRetries > 0 {
		cfg = cfg.WithMaxRetries(*maxRetries)
	}

	var writer api.Appender
	if variant == engine.VariantIndexed {
		writer = engine.NewIndexWriter(store, cfg, clock, ids, nil)
	} else {
		writer = engine.NewEmbeddedWriter(store, cfg, clock, ids)
	}
	server := api.NewServer(writer, engine.NewReader(store, clock), engine.NewLifecycle(store, cfg, clock))

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}

	go func() {
		fmt.Printf("Transaction engine API listening on %s (mode=%s store=%s)\n", *httpAddr, variant, *storeKind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	fmt.Println("Server gracefully stopped.")
}
