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
	"strings"
	"time"
)

// Print writes the human-readable end-of-run summary followed by a
// machine-readable one-line form for scripts.
func (r *Report) Print() {
	sep := strings.Repeat("-", 64)
	fmt.Printf("Benchmark: mode=%s clients=%d duration=%s\n", r.Mode, r.Clients, r.ActualDuration.Round(time.Millisecond))
	fmt.Println(sep)
	fmt.Printf("%-26s %12s\n", "Metric", "Value")
	fmt.Println(sep)
	fmt.Printf("%-26s %12d\n", "Attempted", r.TotalAttempted)
	fmt.Printf("%-26s %12d\n", "Successful", r.TotalSuccessful)
	fmt.Printf("%-26s %12d\n", "Failed", r.TotalFailed)
	fmt.Printf("%-26s %11.2f%%\n", "Success rate", r.SuccessRatePct)
	fmt.Printf("%-26s %12.1f\n", "TPS", r.TPS)
	fmt.Printf("%-26s %12d\n", "Conflicts resolved", r.ConflictsResolved)
	fmt.Printf("%-26s %12d\n", "Index conflicts resolved", r.IndexConflictsResolved)
	fmt.Printf("%-26s %12d\n", "Total retries", r.TotalRetries)
	fmt.Printf("%-26s %12d\n", "Transient retries", r.TransientRetries)
	fmt.Printf("%-26s %12d\n", "Business rejected", r.BusinessRejected)
	fmt.Printf("%-26s %12d\n", "Timed out", r.TimedOut)
	fmt.Printf("%-26s %12d\n", "Orphan details", r.OrphanCount)
	fmt.Println(sep)
	printLatency("Append latency (ms)", r.Latency)
	if r.Read.Samples > 0 {
		printLatency("Read latency (ms)", r.Read)
	}
	fmt.Println(sep)
	fmt.Printf("%-26s %12v\n", "100% success", r.Meets100PctSuccess)
	fmt.Printf("%-26s %12v\n", "avg <= 20ms", r.Meets20msResponse)
	fmt.Printf("%-26s %12v\n", "read p95 <= 50ms", r.Meets50msRead)
	fmt.Printf("%-26s %12v\n", "index consistency", r.IndexConsistencyVerified)
	for _, m := range r.Mismatches {
		fmt.Printf("  MISMATCH %s: refs=%d details=%d (delta %d)\n", m.RoundID, m.RefCount, m.DetailCount, m.RefCount-m.DetailCount)
	}
	fmt.Println(sep)

	fmt.Printf("Summary: mode=%s clients=%d duration_ms=%d attempted=%d successful=%d failed=%d success_pct=%.2f tps=%.1f avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f p99_ms=%.3f p999_ms=%.3f conflicts=%d index_conflicts=%d retries=%d orphans=%d consistent=%t\n",
		r.Mode, r.Clients, r.ActualDuration.Milliseconds(),
		r.TotalAttempted, r.TotalSuccessful, r.TotalFailed, r.SuccessRatePct, r.TPS,
		r.Latency.Avg, r.Latency.P50, r.Latency.P95, r.Latency.P99, r.Latency.P999,
		r.ConflictsResolved, r.IndexConflictsResolved, r.TotalRetries, r.OrphanCount,
		r.IndexConsistencyVerified)
}

func printLatency(title string, s LatencyStats) {
	fmt.Printf("%s  n=%d\n", title, s.Samples)
	if s.Samples == 0 {
		return
	}
	fmt.Printf("  avg=%.3f min=%.3f p50=%.3f p95=%.3f p99=%.3f p99.5=%.3f p99.9=%.3f max=%.3f\n",
		s.Avg, s.Min, s.P50, s.P95, s.P99, s.P995, s.P999, s.Max)
}
