package valuation

import (
	"context"
	"sync"

	"github.com/sells-group/intellifin/internal/model"
)

type mockStore struct {
	mu          sync.Mutex
	companies   map[string]model.Company
	assumptions map[int64]model.AssumptionSet
	setOrder    []int64
	metrics     map[string][]model.DerivedMetric
	clean       map[string]*model.CleanRecord
	runs        []model.ValuationRun

	assumptionReads int
	metricReads     int
	cleanReads      int
	insertErr       error
}

func newMockStore() *mockStore {
	return &mockStore{
		companies:   make(map[string]model.Company),
		assumptions: make(map[int64]model.AssumptionSet),
		metrics:     make(map[string][]model.DerivedMetric),
		clean:       make(map[string]*model.CleanRecord),
	}
}

func (m *mockStore) addAssumption(a model.AssumptionSet) {
	m.assumptions[a.ID] = a
	m.setOrder = append(m.setOrder, a.ID)
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

func (m *mockStore) GetAssumptionSet(_ context.Context, id int64) (*model.AssumptionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assumptionReads++
	a, ok := m.assumptions[id]
	if !ok {
		return nil, model.NewNotFound("assumption_set", "x")
	}
	return &a, nil
}

func (m *mockStore) ListAssumptionSets(_ context.Context) ([]model.AssumptionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AssumptionSet, 0, len(m.setOrder))
	for _, id := range m.setOrder {
		out = append(out, m.assumptions[id])
	}
	return out, nil
}

func (m *mockStore) ListMetrics(_ context.Context, code string) ([]model.DerivedMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricReads++
	return append([]model.DerivedMetric(nil), m.metrics[code]...), nil
}

func (m *mockStore) LatestClean(_ context.Context, code string) (*model.CleanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanReads++
	return m.clean[code], nil
}

func (m *mockStore) InsertRun(_ context.Context, run model.ValuationRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, model.NewTransactionError("insert run", m.insertErr)
	}
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, run)
	return run.ID, nil
}
