package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dialect captures everything that differs between database kinds: the
// driver, how a DSN is built and the catalog queries used by the tools.
type Dialect interface {
	// Kind is the canonical kind name reported to clients
	Kind() string
	DriverName() string
	DSN(cfg Config) (string, error)

	// DefaultSchema is the schema listings and descriptions use when the
	// caller does not name one.
	DefaultSchema(cfg Config) string

	VersionQuery() string
	SizeQuery() string
	TablesQuery(schema string) (string, []interface{})
	SchemasQuery() string
	ColumnsQuery(schema, table string) (string, []interface{})
	TableSizeQuery(schema, table string) (string, []interface{})

	// ExplainPlan returns the execution plan of query and a label of the
	// mechanism used to obtain it.
	ExplainPlan(ctx context.Context, db Database, query string) (interface{}, string, error)
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Dialect{}
)

func init() {
	RegisterDialect("postgres", postgresDialect{})
	RegisterDialect("postgresql", postgresDialect{})
	RegisterDialect("mysql", mysqlDialect{})
	RegisterDialect("oracle", oracleDialect{})
}

// RegisterDialect makes a dialect available under name (case-insensitive).
// Registering an existing name replaces it.
func RegisterDialect(name string, d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(name)] = d
}

// GetDialect looks up the dialect registered for kind
func GetDialect(kind string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()

	d, ok := dialects[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return d, nil
}

// IsSupported reports whether a dialect is registered for kind
func IsSupported(kind string) bool {
	_, err := GetDialect(kind)
	return err == nil
}

// SupportedKinds returns every registered kind name, sorted
func SupportedKinds() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()

	kinds := make([]string, 0, len(dialects))
	for k := range dialects {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// trimStatement drops surrounding whitespace and trailing semicolons so the
// statement can be embedded into EXPLAIN.
func trimStatement(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\n")
}

// explainJSON runs an EXPLAIN that yields a single JSON document
func explainJSON(ctx context.Context, db Database, explain string) (interface{}, error) {
	row := db.QueryRow(ctx, explain)
	if row == nil {
		return nil, ErrNoDatabase
	}

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to read execution plan: %w", err)
	}

	var plan interface{}
	if err := json.Unmarshal(raw, &plan); err != nil {
		// Not JSON after all: hand back the text as is
		return string(raw), nil
	}
	return plan, nil
}
