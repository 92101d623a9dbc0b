package store

import (
	"context"
	"sync"
	"time"
)

// Failure is one upstream failure kept for diagnostics. Cause holds the raw
// provider error text and must never be sent to chat clients.
type Failure struct {
	RequestID  string
	SessionID  string
	Provider   string
	Kind       string
	Cause      string
	OccurredAt time.Time
}

// FailureLog is implemented by every failure sink.
type FailureLog interface {
	RecordFailure(ctx context.Context, f Failure) error
	RecentFailures(ctx context.Context, limit int) ([]Failure, error)
}

// MemoryFailureLog keeps the most recent failures in process memory.
type MemoryFailureLog struct {
	mu          sync.RWMutex
	failures    []Failure
	maxFailures int
}

func NewMemoryFailureLog(maxFailures int) *MemoryFailureLog {
	return &MemoryFailureLog{maxFailures: maxFailures}
}

func (m *MemoryFailureLog) RecordFailure(ctx context.Context, f Failure) error {
	if f.OccurredAt.IsZero() {
		f.OccurredAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	m.trimLocked()
	return nil
}

// Recent returns a copy of the retained failures, oldest first.
func (m *MemoryFailureLog) Recent() []Failure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Failure, len(m.failures))
	copy(out, m.failures)
	return out
}

// RecentFailures returns up to limit failures, newest first.
func (m *MemoryFailureLog) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.failures)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Failure, 0, n)
	for i := len(m.failures) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.failures[i])
	}
	return out, nil
}

func (m *MemoryFailureLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.failures)
}

func (m *MemoryFailureLog) trimLocked() {
	if m.maxFailures <= 0 {
		return
	}
	if len(m.failures) > m.maxFailures {
		m.failures = append([]Failure(nil), m.failures[len(m.failures)-m.maxFailures:]...)
	}
}
