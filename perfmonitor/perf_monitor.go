// Package perfmonitor measures wall-clock durations of repeated operations,
// such as composing and sending one streamed frame.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor times a single operation between Start and Stop. It is
// not safe for concurrent use; give each goroutine its own.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no measurement.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start begins a measurement, discarding any previous end time.
func (p *PerformanceMonitor) Start() {
	p.startTime = time.Now()
	p.endTime = time.Time{}
}

// Stop records the end of the measurement. It does nothing if Start was not
// called since the last Reset. Calling it again moves the end time.
func (p *PerformanceMonitor) Stop() {
	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears the measurement.
func (p *PerformanceMonitor) Reset() {
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the measured duration, or 0 if incomplete.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed in fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}

// Summary aggregates many measurements. It is safe for concurrent use.
type Summary struct {
	mu    sync.Mutex
	count uint64
	total time.Duration
	max   time.Duration
}

// Observe records the duration measured by p, if complete.
func (s *Summary) Observe(p *PerformanceMonitor) {
	d := p.Elapsed()
	if d == 0 && p.endTime.IsZero() {
		return
	}

	s.Add(d)
}

// Add records one duration.
func (s *Summary) Add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.total += d
	if d > s.max {
		s.max = d
	}
}

// Snapshot returns the number of observations with their mean and maximum.
func (s *Summary) Snapshot() (count uint64, mean, peak time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0, 0, 0
	}

	return s.count, s.total / time.Duration(s.count), s.max
}
