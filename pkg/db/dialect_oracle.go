package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/FreePeak/database-mcp-server/pkg/logger"
)

type oracleDialect struct{}

func (oracleDialect) Kind() string       { return "oracle" }
func (oracleDialect) DriverName() string { return "godror" }

// DSN builds a godror logfmt connection string. A service name wins over a
// SID; without either the database name is used as the service.
func (oracleDialect) DSN(cfg Config) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidInput)
	}

	var connect string
	switch {
	case cfg.ServiceName != "":
		connect = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.ServiceName)
	case cfg.SID != "":
		connect = fmt.Sprintf("(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=%s)(PORT=%d))(CONNECT_DATA=(SID=%s)))",
			cfg.Host, cfg.Port, cfg.SID)
	case cfg.Name != "":
		connect = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
	default:
		return "", fmt.Errorf("%w: oracle needs a service_name, sid or database", ErrInvalidInput)
	}

	return fmt.Sprintf("user=%s password=%s connectString=%s",
		logfmtQuote(cfg.User), logfmtQuote(cfg.Password), logfmtQuote(connect)), nil
}

func logfmtQuote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

func (oracleDialect) DefaultSchema(cfg Config) string {
	if cfg.Schema != "" {
		return strings.ToUpper(cfg.Schema)
	}
	return strings.ToUpper(cfg.User)
}

func (oracleDialect) VersionQuery() string {
	return "SELECT banner FROM v$version WHERE ROWNUM = 1"
}

func (oracleDialect) SizeQuery() string {
	return "SELECT ROUND(SUM(bytes) / 1024 / 1024, 2) || ' MB' FROM user_segments"
}

func (oracleDialect) TablesQuery(schema string) (string, []interface{}) {
	if schema == "" {
		return "SELECT table_name FROM user_tables ORDER BY table_name", nil
	}
	return "SELECT table_name FROM all_tables WHERE owner = :1 ORDER BY table_name",
		[]interface{}{strings.ToUpper(schema)}
}

func (oracleDialect) SchemasQuery() string {
	return "SELECT username FROM all_users ORDER BY username"
}

// Oracle stores unquoted identifiers upper case
func (oracleDialect) ColumnsQuery(schema, table string) (string, []interface{}) {
	return `SELECT column_name, data_type, nullable AS is_nullable, data_default AS column_default,
			data_length AS character_maximum_length
		FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2
		ORDER BY column_id`, []interface{}{strings.ToUpper(schema), strings.ToUpper(table)}
}

func (oracleDialect) TableSizeQuery(schema, table string) (string, []interface{}) {
	return `SELECT ROUND(SUM(bytes) / 1024 / 1024, 2) || ' MB', SUM(bytes)
		FROM all_segments
		WHERE owner = :1 AND segment_name = :2`, []interface{}{strings.ToUpper(schema), strings.ToUpper(table)}
}

// ExplainPlan stores the plan in PLAN_TABLE under a fresh statement ID and
// renders it with DBMS_XPLAN.
func (oracleDialect) ExplainPlan(ctx context.Context, db Database, query string) (interface{}, string, error) {
	// STATEMENT_ID is limited to 30 characters
	statementID := "mcp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]

	explain := fmt.Sprintf("EXPLAIN PLAN SET STATEMENT_ID = '%s' FOR %s", statementID, trimStatement(query))
	if _, err := db.Exec(ctx, explain); err != nil {
		return nil, "", fmt.Errorf("failed to explain statement: %w", err)
	}
	defer func() {
		if _, err := db.Exec(ctx, "DELETE FROM plan_table WHERE statement_id = :1", statementID); err != nil {
			logger.Warn("Failed to clean up plan_table for %s: %v", statementID, err)
		}
	}()

	rows, err := db.Query(ctx,
		"SELECT plan_table_output FROM TABLE(DBMS_XPLAN.DISPLAY('PLAN_TABLE', :1, 'TYPICAL'))", statementID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read execution plan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, "", fmt.Errorf("failed to read execution plan: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to read execution plan: %w", err)
	}

	return lines, "EXPLAIN PLAN + DBMS_XPLAN.DISPLAY", nil
}
