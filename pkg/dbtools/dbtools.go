package dbtools

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Database is the subset of db.Database query execution needs
type Database interface {
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	DriverName() string
}

// SuccessMessage is reported for statements that do not return rows
const SuccessMessage = "Query executed successfully"

// Result is the outcome of ExecuteSQL
type Result struct {
	ReturnsRows bool
	Columns     []string
	Rows        []map[string]interface{}
	// RowCount is the number of rows returned, or affected for statements
	// without a result set.
	RowCount  int64
	Truncated bool
}

// Payload renders the result the way tools report it
func (r *Result) Payload() map[string]interface{} {
	if !r.ReturnsRows {
		return map[string]interface{}{
			"success":   true,
			"message":   SuccessMessage,
			"row_count": r.RowCount,
		}
	}

	payload := map[string]interface{}{
		"success":   true,
		"columns":   r.Columns,
		"rows":      r.Rows,
		"row_count": r.RowCount,
	}
	if r.Truncated {
		payload["truncated"] = true
	}
	return payload
}

var (
	leadingNoise   = regexp.MustCompile(`(?s)^(\s+|--[^\n]*\n?|/\*.*?\*/|\()+`)
	returningRegex = regexp.MustCompile(`(?i)\bRETURNING\b`)
	rowKeywords    = map[string]bool{
		"SELECT":   true,
		"WITH":     true,
		"SHOW":     true,
		"EXPLAIN":  true,
		"DESCRIBE": true,
		"DESC":     true,
		"VALUES":   true,
		"TABLE":    true,
	}
)

// ReturnsRows reports whether a statement produces a result set
func ReturnsRows(query string) bool {
	trimmed := leadingNoise.ReplaceAllString(query, "")
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';'
	})
	if len(fields) == 0 {
		return false
	}
	if rowKeywords[strings.ToUpper(fields[0])] {
		return true
	}
	return returningRegex.MatchString(query)
}

// BindParams rewrites :name placeholders into the driver's bind style. A
// query without parameters is returned untouched. Placeholders are found
// lexically, so a ':word' inside a string literal is bound as well.
func BindParams(driverName, query string, params map[string]interface{}) (string, []interface{}, error) {
	if len(params) == 0 {
		return query, nil, nil
	}
	// sqlx reads "::" as an escaped colon; double it so casts survive
	escaped := strings.ReplaceAll(query, "::", "::::")
	bound, args, err := sqlx.BindNamed(sqlx.BindType(driverName), escaped, params)
	if err != nil {
		return "", nil, fmt.Errorf("failed to bind parameters: %w", err)
	}
	return bound, args, nil
}

// ExecuteSQL runs a statement with named parameters. Row returning
// statements yield at most maxRows rows when maxRows is positive.
func ExecuteSQL(ctx context.Context, db Database, query string, params map[string]interface{}, maxRows int) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("sql statement is empty")
	}

	bound, args, err := BindParams(db.DriverName(), query, params)
	if err != nil {
		return nil, err
	}

	out, err := GetPerformanceAnalyzer().TrackQuery(ctx, query, args, func() (interface{}, error) {
		if ReturnsRows(query) {
			return queryRows(ctx, db, bound, args, maxRows)
		}
		return execStatement(ctx, db, bound, args)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}

func queryRows(ctx context.Context, db Database, query string, args []interface{}, maxRows int) (*Result, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	results, truncated, err := rowsToMaps(rows, maxRows)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return &Result{
		ReturnsRows: true,
		Columns:     columns,
		Rows:        results,
		RowCount:    int64(len(results)),
		Truncated:   truncated,
	}, nil
}

// QueryMaps runs a positional catalog query and returns every row as a
// column to value map. It is not recorded by the performance analyzer.
func QueryMaps(ctx context.Context, db Database, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results, _, err := rowsToMaps(rows, 0)
	return results, err
}

func execStatement(ctx context.Context, db Database, query string, args []interface{}) (*Result, error) {
	res, err := db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1 // Unable to determine
	}
	return &Result{RowCount: affected}, nil
}

// rowsToMaps converts rows to a slice of maps, stopping after limit rows when
// limit is positive. The second result tells whether rows were left unread.
func rowsToMaps(rows *sql.Rows, limit int) ([]map[string]interface{}, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}

	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	results := make([]map[string]interface{}, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(results) >= limit {
			truncated = true
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, false, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return results, truncated, nil
}

// jsonValue converts driver values into something encoding/json renders sensibly
func jsonValue(val interface{}) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return v
	}
}
