package assignment

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// memStore keeps assignments in memory. LockScope holds a per-scope mutex
// until the transaction ends, the way pg_advisory_xact_lock does.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]Assignment
	locks   map[string]*sync.Mutex
	metrics map[string]bool
	periods map[string]bool
	seq     int
}

func newMemStore() *memStore {
	return &memStore{
		rows:    map[string]Assignment{},
		locks:   map[string]*sync.Mutex{},
		metrics: map[string]bool{"metric-1": true, "metric-2": true, "metric-3": true, "metric-off": false},
		periods: map[string]bool{"period-1": true},
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx TxStore) error) error {
	tx := &memTx{store: m, writes: map[string]Assignment{}, deletes: map[string]bool{}}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, row := range tx.writes {
		m.rows[id] = row
	}
	for id := range tx.deletes {
		delete(m.rows, id)
	}
	return nil
}

func (m *memStore) GetAssignment(ctx context.Context, tenantID, assignmentID string) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[assignmentID]
	if !ok || row.TenantID != tenantID {
		return Assignment{}, ErrAssignmentNotFound
	}
	return row, nil
}

func (m *memStore) ListAssignments(ctx context.Context, scope ScopeKey) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, row := range m.rows {
		if row.Scope() == scope {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(scope, excludeID, nil, nil), nil
}

func (m *memStore) sumLocked(scope ScopeKey, excludeID string, writes map[string]Assignment, deletes map[string]bool) float64 {
	total := 0.0
	for id, row := range m.rows {
		if _, overwritten := writes[id]; overwritten || deletes[id] || id == excludeID {
			continue
		}
		if row.Scope() == scope {
			total += row.Weight
		}
	}
	for id, row := range writes {
		if id != excludeID && row.Scope() == scope {
			total += row.Weight
		}
	}
	return total
}

func (m *memStore) total(scope ScopeKey) float64 {
	total, _ := m.SumWeights(context.Background(), scope, "")
	return total
}

type memTx struct {
	store   *memStore
	held    []*sync.Mutex
	writes  map[string]Assignment
	deletes map[string]bool
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
}

func (t *memTx) LockScope(ctx context.Context, scope ScopeKey) error {
	t.store.mu.Lock()
	lock, ok := t.store.locks[scope.lockKey()]
	if !ok {
		lock = &sync.Mutex{}
		t.store.locks[scope.lockKey()] = lock
	}
	t.store.mu.Unlock()

	lock.Lock()
	t.held = append(t.held, lock)
	return nil
}

func (t *memTx) SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error) {
	t.store.mu.Lock()
	total := t.store.sumLocked(scope, excludeID, t.writes, t.deletes)
	t.store.mu.Unlock()
	// widen the window between read and write so a missing lock shows up
	runtime.Gosched()
	return total, nil
}

func (t *memTx) MetricActive(ctx context.Context, tenantID, metricID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.metrics[metricID], nil
}

func (t *memTx) PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.periods[periodID], nil
}

func (t *memTx) AssignmentForUpdate(ctx context.Context, tenantID, assignmentID string) (Assignment, error) {
	return t.store.GetAssignment(ctx, tenantID, assignmentID)
}

func (t *memTx) InsertAssignment(ctx context.Context, a Assignment) (string, error) {
	t.store.mu.Lock()
	t.store.seq++
	id := fmt.Sprintf("asg-%d", t.store.seq)
	t.store.mu.Unlock()
	a.ID = id
	t.writes[id] = a
	return id, nil
}

func (t *memTx) UpdateAssignment(ctx context.Context, a Assignment) error {
	t.writes[a.ID] = a
	return nil
}

func (t *memTx) SoftDeleteAssignment(ctx context.Context, tenantID, assignmentID string) error {
	t.deletes[assignmentID] = true
	return nil
}
