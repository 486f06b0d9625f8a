package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FreePeak/database-mcp-server/internal/config"
	"github.com/FreePeak/database-mcp-server/internal/logger"
	"github.com/FreePeak/database-mcp-server/pkg/db"
	"github.com/FreePeak/database-mcp-server/pkg/dbtools"
)

// DefaultQueryTimeout bounds a single statement when no timeout is configured
const DefaultQueryTimeout = 30 * time.Second

// DatabaseUseCase implements the database operations exposed as MCP tools.
// Ad hoc connections are tracked by the manager; configured tools share one
// lazily opened pool per source.
type DatabaseUseCase struct {
	tools        *config.ToolsConfig
	manager      *db.Manager
	open         db.Opener
	queryTimeout time.Duration

	poolMu sync.Mutex
	pools  map[string]db.Database
}

// Option configures a DatabaseUseCase
type Option func(*DatabaseUseCase)

// WithQueryTimeout sets the default statement timeout
func WithQueryTimeout(d time.Duration) Option {
	return func(uc *DatabaseUseCase) {
		if d > 0 {
			uc.queryTimeout = d
		}
	}
}

// WithOpener replaces the function used to open source pools for configured tools
func WithOpener(open db.Opener) Option {
	return func(uc *DatabaseUseCase) {
		uc.open = open
	}
}

// NewDatabaseUseCase creates a new database use case
func NewDatabaseUseCase(tools *config.ToolsConfig, manager *db.Manager, opts ...Option) *DatabaseUseCase {
	uc := &DatabaseUseCase{
		tools:        tools,
		manager:      manager,
		open:         db.Open,
		queryTimeout: DefaultQueryTimeout,
		pools:        make(map[string]db.Database),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func sourceNotFound(name string) error {
	return fmt.Errorf("Source '%s' not found in configuration", name)
}

func (uc *DatabaseUseCase) connection(id string) (db.Database, error) {
	database, err := uc.manager.GetDB(id)
	if err != nil {
		return nil, fmt.Errorf("Connection %s not found or inactive", id)
	}
	return database, nil
}

// ConnectDB opens a tracked connection to a configured source
func (uc *DatabaseUseCase) ConnectDB(ctx context.Context, sourceName string) (map[string]interface{}, error) {
	src, ok := uc.tools.Source(sourceName)
	if !ok {
		return nil, sourceNotFound(sourceName)
	}

	id, err := uc.manager.Create(ctx, sourceName, src.DBConfig())
	if err != nil {
		logger.Error("Failed to connect to source %s: %v", sourceName, err)
		return nil, err
	}
	logger.Info("Opened connection %s to source %s", id, sourceName)

	return map[string]interface{}{
		"success":       true,
		"connection_id": id,
		"source_name":   sourceName,
		"database_type": src.Kind,
		"host":          src.Host,
		"port":          src.Port,
		"database":      src.Database,
	}, nil
}

// ExecuteSQL runs a statement on a tracked connection
func (uc *DatabaseUseCase) ExecuteSQL(ctx context.Context, connectionID, statement string, params map[string]interface{}) (map[string]interface{}, error) {
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	result, err := dbtools.ExecuteSQL(ctx, database, statement, params, 0)
	if err != nil {
		return nil, err
	}
	return result.Payload(), nil
}

// CloseConnection closes a tracked connection. Closing an unknown connection
// is not an error; the payload reports it.
func (uc *DatabaseUseCase) CloseConnection(connectionID string) map[string]interface{} {
	if uc.manager.Close(connectionID) {
		return map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Connection %s closed", connectionID),
		}
	}
	return map[string]interface{}{
		"success": false,
		"message": fmt.Sprintf("Connection %s not found", connectionID),
	}
}

// ListConnections describes every active tracked connection
func (uc *DatabaseUseCase) ListConnections() map[string]interface{} {
	connections := uc.manager.List()
	return map[string]interface{}{
		"success":     true,
		"connections": connections,
		"count":       len(connections),
	}
}

// ExplainPlan returns the engine's execution plan for a statement
func (uc *DatabaseUseCase) ExplainPlan(ctx context.Context, connectionID, statement string) (map[string]interface{}, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, errors.New("sql statement is empty")
	}
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	plan, planType, err := database.Dialect().ExplainPlan(ctx, database, statement)
	if err != nil {
		return nil, fmt.Errorf("failed to explain statement: %w", err)
	}

	return map[string]interface{}{
		"success":        true,
		"database_type":  database.Kind(),
		"sql":            statement,
		"execution_plan": plan,
		"plan_type":      planType,
	}, nil
}

// ListTables lists the tables of the connection's default schema
func (uc *DatabaseUseCase) ListTables(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	dialect := database.Dialect()
	query, args := dialect.TablesQuery(dialect.DefaultSchema(database.Config()))
	tables, err := queryStrings(ctx, database, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"tables":  tables,
		"count":   len(tables),
	}, nil
}

// ListSchemas lists the schemas (databases for MySQL, users for Oracle)
func (uc *DatabaseUseCase) ListSchemas(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	schemas, err := queryStrings(ctx, database, database.Dialect().SchemasQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"schemas": schemas,
		"count":   len(schemas),
	}, nil
}

// GetDatabaseInfo reports the server version and database size
func (uc *DatabaseUseCase) GetDatabaseInfo(ctx context.Context, connectionID string) (map[string]interface{}, error) {
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	dialect := database.Dialect()

	var version sql.NullString
	if err := database.QueryRow(ctx, dialect.VersionQuery()).Scan(&version); err != nil {
		return nil, fmt.Errorf("failed to get database version: %w", err)
	}

	size := "unknown"
	var rawSize sql.NullString
	if err := database.QueryRow(ctx, dialect.SizeQuery()).Scan(&rawSize); err != nil {
		logger.Warn("Failed to get database size for %s: %v", connectionID, err)
	} else if rawSize.Valid {
		size = rawSize.String
	}

	return map[string]interface{}{
		"success":       true,
		"database_type": database.Kind(),
		"version":       version.String,
		"size":          size,
	}, nil
}

// DescribeTable returns column definitions and storage size of a table. A
// "schema.table" name overrides the connection's default schema.
func (uc *DatabaseUseCase) DescribeTable(ctx context.Context, connectionID, tableName string) (map[string]interface{}, error) {
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		return nil, errors.New("table_name is required")
	}
	database, err := uc.connection(connectionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.queryTimeout)
	defer cancel()

	dialect := database.Dialect()
	schema, table := dialect.DefaultSchema(database.Config()), tableName
	if i := strings.Index(tableName, "."); i > 0 {
		schema, table = tableName[:i], tableName[i+1:]
	}

	query, args := dialect.ColumnsQuery(schema, table)
	columns, err := dbtools.QueryMaps(ctx, database, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("Table '%s' not found in schema '%s'", table, schema)
	}
	for i, col := range columns {
		columns[i] = lowerKeys(col)
	}

	size, sizeBytes := "unknown", int64(0)
	query, args = dialect.TableSizeQuery(schema, table)
	var pretty, raw sql.NullString
	if err := database.QueryRow(ctx, query, args...).Scan(&pretty, &raw); err != nil {
		logger.Warn("Failed to get size of table %s: %v", tableName, err)
	} else {
		if pretty.Valid {
			size = pretty.String
		}
		sizeBytes = parseBytes(raw.String)
	}

	return map[string]interface{}{
		"success":    true,
		"table_name": table,
		"schema":     schema,
		"columns":    columns,
		"size":       size,
		"size_bytes": sizeBytes,
	}, nil
}

// ListSources describes the configured sources without credentials
func (uc *DatabaseUseCase) ListSources() map[string]interface{} {
	names := uc.tools.SourceNames()
	sources := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		src, _ := uc.tools.Source(name)
		sources = append(sources, map[string]interface{}{
			"name":     name,
			"kind":     src.Kind,
			"host":     src.Host,
			"port":     src.Port,
			"database": src.Database,
			"user":     src.User,
		})
	}

	return map[string]interface{}{
		"success": true,
		"sources": sources,
		"count":   len(sources),
	}
}

// QueryMetrics reports execution statistics, slowest first. A positive limit
// caps the number of entries. With reset the statistics start over after
// this report.
func (uc *DatabaseUseCase) QueryMetrics(slowOnly bool, limit int, reset bool) map[string]interface{} {
	analyzer := dbtools.GetPerformanceAnalyzer()

	var metrics []dbtools.QueryMetrics
	if slowOnly {
		metrics = analyzer.GetSlowQueries()
	} else {
		metrics = analyzer.GetAllMetrics()
	}
	if limit > 0 && len(metrics) > limit {
		metrics = metrics[:limit]
	}

	threshold := analyzer.SlowThreshold()
	payload := map[string]interface{}{
		"success":           true,
		"metrics":           dbtools.MetricsPayload(metrics, threshold),
		"count":             len(metrics),
		"slow_threshold_ms": threshold.Milliseconds(),
	}
	if reset {
		analyzer.Reset()
		payload["reset"] = true
	}
	return payload
}

// RunTool executes a configured tool with the caller's arguments
func (uc *DatabaseUseCase) RunTool(ctx context.Context, tool config.Tool, args map[string]interface{}) (map[string]interface{}, error) {
	if tool.Kind == config.KindDatabaseConnection {
		return uc.ConnectDB(ctx, tool.Source)
	}

	params, err := bindArguments(tool, args)
	if err != nil {
		return nil, err
	}

	database, err := uc.pooled(ctx, tool.Source)
	if err != nil {
		return nil, err
	}

	timeout := uc.queryTimeout
	if tool.Timeout > 0 {
		timeout = time.Duration(tool.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("Running tool %s on source %s", tool.Name, tool.Source)
	result, err := dbtools.ExecuteSQL(ctx, database, tool.Statement, params, tool.MaxRows)
	if err != nil {
		return nil, err
	}
	return result.Payload(), nil
}

// pooled returns the shared pool of a source, opening it on first use
func (uc *DatabaseUseCase) pooled(ctx context.Context, sourceName string) (db.Database, error) {
	uc.poolMu.Lock()
	defer uc.poolMu.Unlock()

	if database, ok := uc.pools[sourceName]; ok {
		return database, nil
	}

	src, ok := uc.tools.Source(sourceName)
	if !ok {
		return nil, sourceNotFound(sourceName)
	}

	database, err := uc.open(ctx, src.DBConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("Opened pool for source %s", sourceName)
	uc.pools[sourceName] = database
	return database, nil
}

// CloseAll closes every tracked connection and every source pool
func (uc *DatabaseUseCase) CloseAll() error {
	uc.poolMu.Lock()
	var errs []error
	for name, database := range uc.pools {
		if err := database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", name, err))
		}
		delete(uc.pools, name)
	}
	uc.poolMu.Unlock()

	errs = append(errs, uc.manager.CloseAll())
	return errors.Join(errs...)
}

// bindArguments maps call arguments onto the tool's declared parameters,
// filling defaults and rejecting missing required ones.
func bindArguments(tool config.Tool, args map[string]interface{}) (map[string]interface{}, error) {
	if len(tool.Parameters) == 0 {
		return nil, nil
	}

	params := make(map[string]interface{}, len(tool.Parameters))
	for _, p := range tool.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			switch {
			case p.Default != nil:
				v = p.Default
			case p.IsRequired():
				return nil, fmt.Errorf("missing required parameter '%s'", p.Name)
			}
		}

		v, err := checkType(p, v)
		if err != nil {
			return nil, err
		}
		params[p.Name] = v
	}
	return params, nil
}

// checkType verifies a value against the parameter's declared type. JSON
// numbers arrive as float64; integral ones are passed on as int64.
func checkType(p config.ToolParameter, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch p.Type {
	case "integer":
		switch n := v.(type) {
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("parameter '%s' must be an integer", p.Name)
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return v, nil
		}
		return nil, fmt.Errorf("parameter '%s' must be a number", p.Name)
	case "boolean":
		if _, ok := v.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("parameter '%s' must be a boolean", p.Name)
	}
	return v, nil
}

// queryStrings collects the first column of every row
func queryStrings(ctx context.Context, database db.Database, query string, args ...interface{}) ([]string, error) {
	rows, err := database.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v.String)
	}
	return values, rows.Err()
}

func lowerKeys(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func parseBytes(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
