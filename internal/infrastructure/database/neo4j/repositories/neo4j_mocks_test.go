package repositories

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/mock"

	infraNeo4j "github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j"
)

// MockInfraDriver runs every transaction body against Tx.
type MockInfraDriver struct {
	mock.Mock
	Tx *MockInfraTransaction
}

func (m *MockInfraDriver) ExecuteRead(ctx context.Context, work infraNeo4j.TransactionWork) (any, error) {
	m.Called(ctx)
	return work(m.Tx)
}

func (m *MockInfraDriver) ExecuteWrite(ctx context.Context, work infraNeo4j.TransactionWork) (any, error) {
	m.Called(ctx)
	return work(m.Tx)
}

func (m *MockInfraDriver) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockInfraDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockInfraTransaction implements infraNeo4j.Transaction.
type MockInfraTransaction struct {
	mock.Mock
}

func (m *MockInfraTransaction) Run(ctx context.Context, cypher string, params map[string]any) (infraNeo4j.Result, error) {
	args := m.Called(ctx, cypher, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(infraNeo4j.Result), args.Error(1)
}

// MockResult iterates over Records.
type MockResult struct {
	Records []*neo4j.Record
	Summary neo4j.ResultSummary
	current *neo4j.Record
}

func (m *MockResult) Next(context.Context) bool {
	if len(m.Records) == 0 {
		return false
	}
	m.current, m.Records = m.Records[0], m.Records[1:]
	return true
}

func (m *MockResult) Record() *neo4j.Record { return m.current }
func (m *MockResult) Err() error            { return nil }

func (m *MockResult) Consume(context.Context) (neo4j.ResultSummary, error) {
	return m.Summary, nil
}

type mockSummary struct {
	neo4j.ResultSummary
	counters neo4j.Counters
}

func (s *mockSummary) Counters() neo4j.Counters { return s.counters }

type mockCounters struct {
	neo4j.Counters
	relationshipsCreated int
}

func (c *mockCounters) RelationshipsCreated() int { return c.relationshipsCreated }

func summaryWithRelationships(n int) neo4j.ResultSummary {
	return &mockSummary{counters: &mockCounters{relationshipsCreated: n}}
}

func newRecord(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func setupMockDriver() (*MockInfraDriver, *MockInfraTransaction) {
	tx := new(MockInfraTransaction)
	d := &MockInfraDriver{Tx: tx}
	d.On("ExecuteRead", mock.Anything).Return()
	d.On("ExecuteWrite", mock.Anything).Return()
	return d, tx
}
