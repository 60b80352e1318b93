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
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gte/internal/engine"
	"gte/pkg/kv"
)

// Writer is the appender surface both engine writers satisfy.
type Writer interface {
	Append(ctx context.Context, req engine.AppendRequest) engine.AppendResult
}

// Options configures one benchmark run.
type Options struct {
	// Clients is the number of concurrent virtual clients (1..1000).
	Clients int
	// Duration is the wall-clock run length. Defaults to 60s.
	Duration time.Duration
	// Mode selects the writer under test.
	Mode engine.Variant
	// SharedRoundID, when non-empty, aims every client at the same round
	// instead of rotating per-client rounds (the maximum-contention case).
	SharedRoundID string
	// RunTag namespaces the generated round ids.
	RunTag string
	// Seed makes the generated streams reproducible.
	Seed uint64
	// ReaderInterval, when > 0, runs one concurrent reader polling a busy
	// round at this interval and reports read latency against the 50 ms
	// target.
	ReaderInterval time.Duration
	// VerifySample caps how many rounds the post-run consistency check
	// inspects. 0 means all.
	VerifySample int
}

// LatencyStats summarizes one latency population in milliseconds.
type LatencyStats struct {
	Avg, P50, P95, P99, P995, P999, Min, Max float64
	Samples                                  int
}

// ConsistencyMismatch reports one round whose ref count and reachable
// detail count disagree after the run.
type ConsistencyMismatch struct {
	RoundID     string
	RefCount    int
	DetailCount int
}

// Report is the aggregated outcome of a run.
type Report struct {
	Mode            engine.Variant
	Clients         int
	ActualDuration  time.Duration
	TotalAttempted  int64
	TotalSuccessful int64
	TotalFailed     int64
	SuccessRatePct  float64
	TPS             float64

	Latency LatencyStats
	Read    LatencyStats // populated when a reader ran

	ConflictsResolved      int64 // round-level
	IndexConflictsResolved int64 // indexed only
	TotalRetries           int64
	TransientRetries       int64
	BusinessRejected       int64
	TimedOut               int64
	OrphanCount            int64

	Meets100PctSuccess       bool
	Meets20msResponse        bool
	Meets50msRead            bool
	IndexConsistencyVerified bool
	Mismatches               []ConsistencyMismatch

	// RoundSuccesses maps each touched round id to the number of appends
	// the aggregator counted as successful against it.
	RoundSuccesses map[string]int64
}

// Driver spawns K parallel client loops against a writer and aggregates
// their outcomes. Counters are advanced with atomic increments on the hot
// path; latency samples live in per-client buffers merged at shutdown.
type Driver struct {
	writer Writer
	reader *engine.Reader
	store  kv.Store
	clock  engine.Clock
	opts   Options

	attempted  atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	conflicts  atomic.Int64
	idxConf    atomic.Int64
	retries    atomic.Int64
	transients atomic.Int64
	rejected   atomic.Int64
	timedOut   atomic.Int64
}

// NewDriver wires a driver. The store is only consulted by the post-run
// consistency verifier; the reader is optional and used when
// opts.ReaderInterval > 0.
func NewDriver(writer Writer, reader *engine.Reader, store kv.Store, clock engine.Clock, opts Options) *Driver {
	if opts.Clients < 1 {
		opts.Clients = 1
	}
	if opts.Clients > 1000 {
		opts.Clients = 1000
	}
	if opts.Duration <= 0 {
		opts.Duration = 60 * time.Second
	}
	if opts.RunTag == "" {
		opts.RunTag = "run"
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(clock.Now().UnixNano())
	}
	return &Driver{writer: writer, reader: reader, store: store, clock: clock, opts: opts}
}

// Run executes the benchmark and returns the aggregated report. The run
// never aborts on append failures; every attempt contributes one latency
// sample. Clients check the wall-clock deadline at the top of each
// iteration and exit cleanly; an in-flight append finishing after the
// deadline still counts.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	k := d.opts.Clients
	start := d.clock.Now()
	deadline := start.Add(d.opts.Duration)

	latBufs := make([][]float64, k)
	roundCounts := make([]map[string]int64, k)
	gens := make([]*SessionGenerator, k)

	var wg sync.WaitGroup
	wg.Add(k)
	for c := 0; c < k; c++ {
		gens[c] = NewSessionGenerator(d.opts.RunTag, c, d.opts.Seed)
		go func(c int) {
			defer wg.Done()
			d.clientLoop(ctx, gens[c], deadline, &latBufs[c], &roundCounts[c])
		}(c)
	}

	// Optional concurrent reader targeting the busiest key.
	readStop := make(chan struct{})
	var readLat []float64
	var readWg sync.WaitGroup
	if d.opts.ReaderInterval > 0 && d.reader != nil {
		target := d.opts.SharedRoundID
		if target == "" {
			target = fmt.Sprintf("%s-client0-round1", d.opts.RunTag)
		}
		readWg.Add(1)
		go func() {
			defer readWg.Done()
			readLat = d.readLoop(ctx, target, readStop)
		}()
	}

	wg.Wait()
	close(readStop)
	readWg.Wait()
	actual := d.clock.Now().Sub(start)

	// Merge thread-local buffers.
	var all []float64
	for i := range latBufs {
		all = append(all, latBufs[i]...)
		latBufs[i] = nil
	}
	successes := make(map[string]int64)
	for _, m := range roundCounts {
		for id, n := range m {
			successes[id] += n
		}
	}

	rep := &Report{
		Mode:            d.opts.Mode,
		Clients:         k,
		ActualDuration:  actual,
		TotalAttempted:  d.attempted.Load(),
		TotalSuccessful: d.successful.Load(),
		TotalFailed:     d.failed.Load(),

		ConflictsResolved:      d.conflicts.Load(),
		IndexConflictsResolved: d.idxConf.Load(),
		TotalRetries:           d.retries.Load(),
		TransientRetries:       d.transients.Load(),
		BusinessRejected:       d.rejected.Load(),
		TimedOut:               d.timedOut.Load(),

		Latency:        summarize(all),
		Read:           summarize(readLat),
		RoundSuccesses: successes,
	}
	if rep.TotalAttempted > 0 {
		rep.SuccessRatePct = float64(rep.TotalSuccessful) / float64(rep.TotalAttempted) * 100
	}
	if secs := actual.Seconds(); secs > 0 {
		rep.TPS = float64(rep.TotalSuccessful) / secs
	}
	if iw, ok := d.writer.(*engine.IndexWriter); ok {
		rep.OrphanCount = iw.Orphans().Count()
	}

	rep.Meets100PctSuccess = rep.SuccessRatePct >= 100.0
	rep.Meets20msResponse = rep.Latency.Avg <= 20.0
	rep.Meets50msRead = rep.Read.Samples == 0 || rep.Read.P95 <= 50.0

	if err := d.verifyConsistency(ctx, rep, gens); err != nil {
		return rep, err
	}
	return rep, nil
}

// clientLoop is one virtual client: sequential appends until the deadline.
func (d *Driver) clientLoop(ctx context.Context, gen *SessionGenerator, deadline time.Time, lat *[]float64, counts *map[string]int64) {
	buf := make([]float64, 0, 4096)
	mine := make(map[string]int64)
	for {
		if !d.clock.Now().Before(deadline) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		ev := gen.Next()
		roundID := ev.RoundID
		if d.opts.SharedRoundID != "" {
			roundID = d.opts.SharedRoundID
		}
		res := d.writer.Append(ctx, engine.AppendRequest{
			RoundID:  roundID,
			Type:     ev.Type,
			Amount:   ev.Amount,
			Currency: "USD",
		})

		d.attempted.Add(1)
		buf = append(buf, res.ResponseTimeMs)
		if res.Success {
			d.successful.Add(1)
			mine[roundID]++
		} else {
			d.failed.Add(1)
		}
		d.conflicts.Add(int64(res.RoundConflicts))
		d.idxConf.Add(int64(res.IndexConflicts))
		d.retries.Add(int64(res.TotalRetries))
		d.transients.Add(int64(res.TransientRetries))
		if res.BusinessRejected {
			d.rejected.Add(1)
		}
		if res.TimedOut {
			d.timedOut.Add(1)
		}
	}
	*lat = buf
	*counts = mine
}

// readLoop polls one round at the configured interval until stopped,
// recording read latencies.
func (d *Driver) readLoop(ctx context.Context, roundID string, stop <-chan struct{}) []float64 {
	var lat []float64
	ticker := time.NewTicker(d.opts.ReaderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return lat
		case <-ctx.Done():
			return lat
		case <-ticker.C:
			view, err := d.reader.GetRound(ctx, roundID)
			if err != nil {
				continue // round may not exist yet
			}
			lat = append(lat, view.ResponseTimeMs)
		}
	}
}

// verifyConsistency runs the post-run index check: for sampled rounds,
// every ref must reach its detail document. Embedded runs verify
// trivially. Any mismatch fails the verdict and is reported with counts.
func (d *Driver) verifyConsistency(ctx context.Context, rep *Report, gens []*SessionGenerator) error {
	rep.IndexConsistencyVerified = true
	if d.opts.Mode != engine.VariantIndexed || d.store == nil {
		return nil
	}
	var ids []string
	if d.opts.SharedRoundID != "" {
		ids = []string{d.opts.SharedRoundID}
	} else {
		for _, g := range gens {
			ids = append(ids, g.RoundIDs()...)
		}
	}
	if d.opts.VerifySample > 0 && len(ids) > d.opts.VerifySample {
		ids = ids[:d.opts.VerifySample]
	}
	for _, id := range ids {
		raw, _, exists, err := d.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bench: verify get %s: %w", id, err)
		}
		if !exists {
			continue // round never got a successful append
		}
		round, err := engine.DecodeRound(raw)
		if err != nil {
			return err
		}
		reachable := 0
		for i := range round.Refs {
			_, _, ok, err := d.store.Get(ctx, round.Refs[i].TxnID)
			if err != nil {
				return fmt.Errorf("bench: verify detail %s: %w", round.Refs[i].TxnID, err)
			}
			if ok {
				reachable++
			}
		}
		if reachable != len(round.Refs) {
			rep.IndexConsistencyVerified = false
			rep.Mismatches = append(rep.Mismatches, ConsistencyMismatch{
				RoundID:     id,
				RefCount:    len(round.Refs),
				DetailCount: reachable,
			})
		}
	}
	return nil
}

// summarize computes the latency statistics for one sample population.
func summarize(samples []float64) LatencyStats {
	s := LatencyStats{Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Avg = sum / float64(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P50 = percentile(sorted, 50)
	s.P95 = percentile(sorted, 95)
	s.P99 = percentile(sorted, 99)
	s.P995 = percentile(sorted, 99.5)
	s.P999 = percentile(sorted, 99.9)
	return s
}

// percentile interpolates the p-th percentile from a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := (p / 100) * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	weight := pos - float64(lo)
	return (1-weight)*sorted[lo] + weight*sorted[hi]
}
