package db

import (
	"context"
	"fmt"
	"strings"
)

type postgresDialect struct{}

func (postgresDialect) Kind() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "postgres" }

// DSN builds a lib/pq key/value connection string
func (postgresDialect) DSN(cfg Config) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidInput)
	}

	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + pqQuote(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + pqQuote(cfg.User),
		"password=" + pqQuote(cfg.Password),
		"dbname=" + pqQuote(cfg.Name),
		"sslmode=" + pqQuote(sslmode),
	}
	if cfg.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(cfg.ConnectTimeout.Seconds())))
	}
	if cfg.Schema != "" {
		parts = append(parts, "search_path="+pqQuote(cfg.Schema))
	}
	return strings.Join(parts, " "), nil
}

// pqQuote quotes a value for a key/value DSN when it needs it
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (postgresDialect) DefaultSchema(cfg Config) string {
	if cfg.Schema != "" {
		return cfg.Schema
	}
	return "public"
}

func (postgresDialect) VersionQuery() string { return "SELECT version()" }

func (postgresDialect) SizeQuery() string {
	return "SELECT pg_size_pretty(pg_database_size(current_database()))"
}

func (postgresDialect) TablesQuery(schema string) (string, []interface{}) {
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, []interface{}{schema}
}

func (postgresDialect) SchemasQuery() string {
	return "SELECT schema_name FROM information_schema.schemata ORDER BY schema_name"
}

func (postgresDialect) ColumnsQuery(schema, table string) (string, []interface{}) {
	return `SELECT column_name, data_type, is_nullable, column_default, character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, []interface{}{schema, table}
}

func (postgresDialect) TableSizeQuery(schema, table string) (string, []interface{}) {
	return `SELECT pg_size_pretty(pg_total_relation_size(c.oid)), pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, []interface{}{schema, table}
}

func (postgresDialect) ExplainPlan(ctx context.Context, db Database, query string) (interface{}, string, error) {
	plan, err := explainJSON(ctx, db, "EXPLAIN (FORMAT JSON) "+trimStatement(query))
	if err != nil {
		return nil, "", err
	}
	return plan, "EXPLAIN (FORMAT JSON)", nil
}
