package stackalign

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational measurements from a run. Implement
// it to integrate with a monitoring system; the default is a no-op.
type MetricsCollector interface {
	// RecordAssembly is called after each system assembly.
	// pairs is the tile-pair group count, rows/nnz the merged shape.
	RecordAssembly(pairs, rows, nnz int, duration time.Duration, err error)

	// RecordSolve is called after each factorization attempt.
	RecordSolve(rows, cols int, duration time.Duration, err error)

	// RecordPersist is called after writing a persisted system.
	RecordPersist(files int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAssembly(int, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSolve(int, int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordPersist(int, time.Duration, error)            {}

// BasicMetricsCollector provides simple in-memory counters, useful for
// profiling runs without an external monitoring system.
type BasicMetricsCollector struct {
	AssemblyCount      atomic.Int64
	AssemblyErrors     atomic.Int64
	AssemblyTotalNanos atomic.Int64
	AssemblyRows       atomic.Int64
	AssemblyNNZ        atomic.Int64
	SolveCount         atomic.Int64
	SolveErrors        atomic.Int64
	SolveTotalNanos    atomic.Int64
	PersistCount       atomic.Int64
	PersistErrors      atomic.Int64
}

// RecordAssembly implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAssembly(pairs, rows, nnz int, d time.Duration, err error) {
	b.AssemblyCount.Add(1)
	b.AssemblyRows.Add(int64(rows))
	b.AssemblyNNZ.Add(int64(nnz))
	b.AssemblyTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.AssemblyErrors.Add(1)
	}
}

// RecordSolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSolve(rows, cols int, d time.Duration, err error) {
	b.SolveCount.Add(1)
	b.SolveTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.SolveErrors.Add(1)
	}
}

// RecordPersist implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPersist(files int, d time.Duration, err error) {
	b.PersistCount.Add(1)
	if err != nil {
		b.PersistErrors.Add(1)
	}
}
