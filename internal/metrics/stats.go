// Package metrics keeps in-process dispatch tallies.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/mattjoyce/spork/internal/spork"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total           int64         `json:"total"`
	DirectSpawn     int64         `json:"direct_spawn"`
	PrimedSpawn     int64         `json:"primed_spawn"`
	FullDuplication int64         `json:"full_duplication"`
	Failures        int64         `json:"failures"`
	TotalTime       time.Duration `json:"total_time_ns"`
	AverageTime     time.Duration `json:"average_time_ns"`
}

// Stats is an Observer that counts dispatches by strategy. The zero value is
// ready to use.
type Stats struct {
	total    atomic.Int64
	direct   atomic.Int64
	primed   atomic.Int64
	full     atomic.Int64
	failures atomic.Int64
	nanos    atomic.Int64
}

// NewStats returns an empty Stats.
func NewStats() *Stats { return &Stats{} }

// ObserveDispatch implements spork.Observer.
func (s *Stats) ObserveDispatch(ev spork.Event) {
	s.total.Add(1)
	s.nanos.Add(int64(ev.Duration))
	if ev.Failed() {
		s.failures.Add(1)
		return
	}
	switch ev.Strategy {
	case spork.DirectSpawn:
		s.direct.Add(1)
	case spork.PrimedSpawn:
		s.primed.Add(1)
	case spork.FullDuplication:
		s.full.Add(1)
	}
}

// Snapshot reads the counters. Counters are read independently, so a
// snapshot taken during concurrent dispatches may be off by the in-flight
// events.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Total:           s.total.Load(),
		DirectSpawn:     s.direct.Load(),
		PrimedSpawn:     s.primed.Load(),
		FullDuplication: s.full.Load(),
		Failures:        s.failures.Load(),
		TotalTime:       time.Duration(s.nanos.Load()),
	}
	if snap.Total > 0 {
		snap.AverageTime = snap.TotalTime / time.Duration(snap.Total)
	}
	return snap
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.total.Store(0)
	s.direct.Store(0)
	s.primed.Store(0)
	s.full.Store(0)
	s.failures.Store(0)
	s.nanos.Store(0)
}
