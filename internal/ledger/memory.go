package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps records in process, in append order
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) Append(_ context.Context, rec Record) error {
	rec.fillDefaults(time.Now().UTC())

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) ListBySubscription(_ context.Context, subscriptionID string, limit int) ([]Record, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Record{}
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].SubscriptionID == subscriptionID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Records returns every record in append order
func (m *MemoryLedger) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Record(nil), m.records...)
}

// ForJob returns the records for one job in append order
func (m *MemoryLedger) ForJob(jobID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}
