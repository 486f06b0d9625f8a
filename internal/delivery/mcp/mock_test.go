package mcp

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/FreePeak/database-mcp-server/internal/config"
)

// MockDatabaseUseCase is a mock implementation of the database use case
type MockDatabaseUseCase struct {
	mock.Mock
}

func payloadOf(args mock.Arguments, i int) map[string]interface{} {
	payload, _ := args.Get(i).(map[string]interface{})
	return payload
}

// ConnectDB mocks the ConnectDB method
func (m *MockDatabaseUseCase) ConnectDB(ctx context.Context, sourceName string) (map[string]interface{}, error) {
	args := m.Called(ctx, sourceName)
	return payloadOf(args, 0), args.Error(1)
}

// ExecuteSQL mocks the ExecuteSQL method
func (m *MockDatabaseUseCase) ExecuteSQL(ctx context.Context, connectionID, statement string, params map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID, statement, params)
	return payloadOf(args, 0), args.Error(1)
}

// CloseConnection mocks the CloseConnection method
func (m *MockDatabaseUseCase) CloseConnection(connectionID string) map[string]interface{} {
	return payloadOf(m.Called(connectionID), 0)
}

// ListConnections mocks the ListConnections method
func (m *MockDatabaseUseCase) ListConnections() map[string]interface{} {
	return payloadOf(m.Called(), 0)
}

// ExplainPlan mocks the ExplainPlan method
func (m *MockDatabaseUseCase) ExplainPlan(ctx context.Context, connectionID, statement string) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID, statement)
	return payloadOf(args, 0), args.Error(1)
}

// ListTables mocks the ListTables method
func (m *MockDatabaseUseCase) ListTables(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID)
	return payloadOf(args, 0), args.Error(1)
}

// GetDatabaseInfo mocks the GetDatabaseInfo method
func (m *MockDatabaseUseCase) GetDatabaseInfo(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID)
	return payloadOf(args, 0), args.Error(1)
}

// ListSources mocks the ListSources method
func (m *MockDatabaseUseCase) ListSources() map[string]interface{} {
	return payloadOf(m.Called(), 0)
}

// DescribeTable mocks the DescribeTable method
func (m *MockDatabaseUseCase) DescribeTable(ctx context.Context, connectionID, tableName string) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID, tableName)
	return payloadOf(args, 0), args.Error(1)
}

// ListSchemas mocks the ListSchemas method
func (m *MockDatabaseUseCase) ListSchemas(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	args := m.Called(ctx, connectionID)
	return payloadOf(args, 0), args.Error(1)
}

// QueryMetrics mocks the QueryMetrics method
func (m *MockDatabaseUseCase) QueryMetrics(slowOnly bool, limit int, reset bool) map[string]interface{} {
	return payloadOf(m.Called(slowOnly, limit, reset), 0)
}

// RunTool mocks the RunTool method
func (m *MockDatabaseUseCase) RunTool(ctx context.Context, tool config.Tool, args map[string]interface{}) (map[string]interface{}, error) {
	callArgs := m.Called(ctx, tool, args)
	return payloadOf(callArgs, 0), callArgs.Error(1)
}
