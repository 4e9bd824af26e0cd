package metrics

import (
	"context"
	"sync"

	"github.com/sells-group/intellifin/internal/model"
)

type mockStore struct {
	mu        sync.Mutex
	companies map[string]model.Company
	clean     map[string][]model.CleanRecord
	metrics   map[string][]model.DerivedMetric

	replaceCalls int
	replaceErr   error
	listCleanErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		companies: make(map[string]model.Company),
		clean:     make(map[string][]model.CleanRecord),
		metrics:   make(map[string][]model.DerivedMetric),
	}
}

func (m *mockStore) GetCompany(_ context.Context, code string) (*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[code]
	if !ok {
		return nil, model.NewNotFound("company", code)
	}
	return &c, nil
}

func (m *mockStore) ListClean(_ context.Context, code string) ([]model.CleanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listCleanErr != nil {
		return nil, m.listCleanErr
	}
	return append([]model.CleanRecord(nil), m.clean[code]...), nil
}

func (m *mockStore) ReplaceMetrics(_ context.Context, code string, metrics []model.DerivedMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.replaceErr != nil {
		return model.NewTransactionError("replace metrics "+code, m.replaceErr)
	}
	m.metrics[code] = metrics
	return nil
}
