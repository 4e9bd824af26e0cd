package validate

import (
	"context"
	"sync"

	"github.com/sells-group/intellifin/internal/model"
)

// mockStore is an in-memory Store. Statuses live on the raw rows so tests can
// assert the transitions.
type mockStore struct {
	mu      sync.Mutex
	raws    []model.RawRecord
	clean   []model.CleanRecord
	listErr error

	// promoteErr fails PromoteGroup for the named company.
	promoteErr map[string]error
}

func (m *mockStore) ListRawByStatus(_ context.Context, status model.RawStatus) ([]model.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.RawRecord
	for _, r := range m.raws {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) PromoteGroup(_ context.Context, rec model.CleanRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.promoteErr[rec.CompanyCode]; err != nil {
		return 0, model.NewTransactionError("promote group "+rec.CompanyCode, err)
	}
	rec.ID = int64(len(m.clean) + 1)
	m.clean = append(m.clean, rec)
	m.setStatus(rec.RawIDs, model.RawStatusValidated)
	return rec.ID, nil
}

func (m *mockStore) FailGroup(_ context.Context, _ string, rawIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatus(rawIDs, model.RawStatusFailed)
	return nil
}

func (m *mockStore) setStatus(ids []int64, status model.RawStatus) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range m.raws {
		if want[m.raws[i].ID] {
			m.raws[i].Status = status
		}
	}
}

func (m *mockStore) status(id int64) model.RawStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.raws {
		if r.ID == id {
			return r.Status
		}
	}
	return ""
}

func (m *mockStore) add(code, period string, payload map[string]float64) int64 {
	id := int64(len(m.raws) + 1)
	m.raws = append(m.raws, model.RawRecord{
		ID:          id,
		CompanyCode: code,
		Source:      "NSE",
		Period:      period,
		Payload:     payload,
		Status:      model.RawStatusIngested,
	})
	return id
}
