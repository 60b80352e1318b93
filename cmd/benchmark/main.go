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

// Package main runs the concurrent benchmark driver against the selected
// writer and store. With the default in-memory store it needs no
// infrastructure; point -store=redis -redis_addr=... at a real Redis to
// measure against actual network I/O.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"gte/internal/bench"
	"gte/internal/engine"
	"gte/internal/telemetry"
	"gte/pkg/kv"
)

func main() {
	var (
		mode        = flag.String("mode", "embedded", "Writer under test: embedded|indexed")
		clients     = flag.Int("clients", 50, "Concurrent virtual clients (1..1000)")
		duration    = flag.Duration("duration", 60*time.Second, "Benchmark wall-clock duration")
		sharedRound = flag.String("shared_round", "", "If non-empty, every client writes to this single round id (max contention)")
		runTag      = flag.String("run_tag", "run", "Tag namespacing generated round ids")
		seed        = flag.Uint64("seed", 0, "PRNG seed for reproducible client streams (0 = time-based)")

		maxRetries    = flag.Int("max_retries", 0, "CAS retries per document (0 = per-mode default: 3 embedded, 5 indexed)")
		opDeadline    = flag.Duration("op_deadline", 50*time.Millisecond, "Operation deadline per append, retries included")
		rejectNeg     = flag.Bool("reject_negative_balance", false, "Refuse debits that would drive the balance negative instead of recording them as FAILED")
		maxTxnsPerRnd = flag.Int("max_txns_per_round", 0, "Cap on transactions per round; exceeding it is a business reject (0 = unbounded)")

		storeKind      = flag.String("store", "memory", "Backing store: memory|redis")
		redisAddr      = flag.String("redis_addr", "127.0.0.1:6379", "Redis address when -store=redis")
		connectTimeout = flag.Duration("kv_connect_timeout", 10*time.Second, "KV store connect timeout")
		opTimeout      = flag.Duration("kv_op_timeout", 1500*time.Millisecond, "KV store per-operation timeout")

		readerInterval = flag.Duration("reader_interval", 0, "If > 0, run a concurrent reader polling a busy round at this interval")
		verifySample   = flag.Int("verify_sample", 0, "Rounds sampled by the post-run consistency check (0 = all)")
		metricsAddr    = flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
		pprofOn        = flag.Bool("pprof", false, "Enable pprof on localhost:6060")
	)
	flag.Parse()

	variant := engine.Variant(*mode)
	if variant != engine.VariantEmbedded && variant != engine.VariantIndexed {
		fmt.Println("-mode must be embedded or indexed")
		os.Exit(2)
	}
	if *pprofOn {
		go func() { _ = http.ListenAndServe("localhost:6060", nil) }()
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
			ConnectTimeout: *connectTimeout,
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
		MaxTxnsPerRound:                 *maxTxnsPerRnd,
	}.WithDeadline(*opDeadline)
	if *maxRetries > 0 {
		cfg = cfg.WithMaxRetries(*maxRetries)
	}

	var writer bench.Writer
	if variant == engine.VariantIndexed {
		writer = engine.NewIndexWriter(store, cfg, clock, ids, nil)
	} else {
		writer = engine.NewEmbeddedWriter(store, cfg, clock, ids)
	}
	reader := engine.NewReader(store, clock)

	driver := bench.NewDriver(writer, reader, store, clock, bench.Options{
		Clients:        *clients,
		Duration:       *duration,
		Mode:           variant,
		SharedRoundID:  *sharedRound,
		RunTag:         *runTag,
		Seed:           *seed,
		ReaderInterval: *readerInterval,
		VerifySample:   *verifySample,
	})

	fmt.Printf("Starting benchmark: mode=%s clients=%d duration=%s store=%s\n", variant, *clients, *duration, *storeKind)
	report, err := driver.Run(context.Background())
	if err != nil {
		fmt.Printf("ERROR: benchmark failed: %v\n", err)
		os.Exit(1)
	}
	report.Print()
	if !report.IndexConsistencyVerified {
		// A run with broken ref->detail consistency is a failed benchmark
		// regardless of the other metrics.
		os.Exit(1)
	}
}
