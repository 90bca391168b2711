package queue

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	job      Job
	seq      uint64
	inFlight bool
	token    string
	deadline time.Time
}

// MemoryBackend keeps jobs in process. A single mutex makes every operation atomic.
type MemoryBackend struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	seq       uint64
	exhausted []Job
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memEntry)}
}

func (m *MemoryBackend) Push(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.entries[job.ID] = &memEntry{job: job, seq: m.seq}
	return nil
}

// earliest returns the ready entry with the smallest visibility time, FIFO on ties
func (m *MemoryBackend) earliest() *memEntry {
	var best *memEntry
	for _, e := range m.entries {
		if e.inFlight {
			continue
		}
		if best == nil ||
			e.job.NextEligibleAt.Before(best.job.NextEligibleAt) ||
			(e.job.NextEligibleAt.Equal(best.job.NextEligibleAt) && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

func (m *MemoryBackend) Claim(_ context.Context, now, deadline time.Time, token string) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.earliest()
	if e == nil || e.job.NextEligibleAt.After(now) {
		return Job{}, false, nil
	}
	e.inFlight = true
	e.token = token
	e.deadline = deadline
	return e.job, true, nil
}

// owned returns the in-flight entry for id if token still holds its lease
func (m *MemoryBackend) owned(id, token string) (*memEntry, error) {
	e, ok := m.entries[id]
	if !ok || !e.inFlight || e.token != token {
		return nil, ErrLeaseLost
	}
	return e, nil
}

func (m *MemoryBackend) Complete(_ context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.owned(jobID, token); err != nil {
		return err
	}
	delete(m.entries, jobID)
	return nil
}

func (m *MemoryBackend) Release(_ context.Context, job Job, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.owned(job.ID, token)
	if err != nil {
		return err
	}
	m.seq++
	e.job = job
	e.seq = m.seq
	e.inFlight = false
	e.token = ""
	e.deadline = time.Time{}
	return nil
}

func (m *MemoryBackend) Exhaust(_ context.Context, job Job, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.owned(job.ID, token); err != nil {
		return err
	}
	delete(m.entries, job.ID)
	m.exhausted = append(m.exhausted, job)
	return nil
}

func (m *MemoryBackend) Reap(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.inFlight && e.deadline.Before(now) {
			e.inFlight = false
			e.token = ""
			e.job.NextEligibleAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) NextVisible(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.earliest()
	if e == nil {
		return time.Time{}, false, nil
	}
	return e.job.NextEligibleAt, true, nil
}

func (m *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st Stats
	for _, e := range m.entries {
		if e.inFlight {
			st.InFlight++
		} else {
			st.Ready++
		}
	}
	st.Exhausted = int64(len(m.exhausted))
	return st, nil
}

// Exhausted returns a copy of the jobs that used all their attempts
func (m *MemoryBackend) Exhausted() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Job(nil), m.exhausted...)
}
