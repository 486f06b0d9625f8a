package db

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (mysqlDialect) Kind() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(cfg Config) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidInput)
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Timeout = cfg.ConnectTimeout
	if cfg.Charset != "" {
		if err := mc.Apply(mysql.Charset(cfg.Charset, "")); err != nil {
			return "", fmt.Errorf("invalid charset %q: %w", cfg.Charset, err)
		}
	}
	if tls := mysqlTLS(cfg.SSLMode); tls != "" {
		mc.TLSConfig = tls
	}
	return mc.FormatDSN(), nil
}

// mysqlTLS maps libpq style ssl modes onto the driver's tls parameter
func mysqlTLS(sslmode string) string {
	switch strings.ToLower(sslmode) {
	case "":
		return ""
	case "disable", "disabled", "false":
		return "false"
	case "prefer", "preferred":
		return "preferred"
	case "require", "required", "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full", "verify_ca", "verify_identity", "true":
		return "true"
	default:
		return sslmode
	}
}

func (mysqlDialect) DefaultSchema(cfg Config) string {
	if cfg.Schema != "" {
		return cfg.Schema
	}
	return cfg.Name
}

func (mysqlDialect) VersionQuery() string { return "SELECT VERSION()" }

func (mysqlDialect) SizeQuery() string {
	return `SELECT CONCAT(ROUND(SUM(data_length + index_length) / 1024 / 1024, 2), ' MB')
		FROM information_schema.tables
		WHERE table_schema = DATABASE()`
}

func (mysqlDialect) TablesQuery(schema string) (string, []interface{}) {
	if schema == "" {
		return `SELECT table_name
			FROM information_schema.tables
			WHERE table_schema = DATABASE()
			ORDER BY table_name`, nil
	}
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`, []interface{}{schema}
}

func (mysqlDialect) SchemasQuery() string { return "SHOW DATABASES" }

func (mysqlDialect) ColumnsQuery(schema, table string) (string, []interface{}) {
	return `SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type, IS_NULLABLE AS is_nullable,
			COLUMN_DEFAULT AS column_default, CHARACTER_MAXIMUM_LENGTH AS character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?
		ORDER BY ordinal_position`, []interface{}{schema, table}
}

func (mysqlDialect) TableSizeQuery(schema, table string) (string, []interface{}) {
	return `SELECT CONCAT(ROUND((data_length + index_length) / 1024 / 1024, 2), ' MB'), (data_length + index_length)
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?`, []interface{}{schema, table}
}

func (mysqlDialect) ExplainPlan(ctx context.Context, db Database, query string) (interface{}, string, error) {
	plan, err := explainJSON(ctx, db, "EXPLAIN FORMAT=JSON "+trimStatement(query))
	if err != nil {
		return nil, "", err
	}
	return plan, "EXPLAIN FORMAT=JSON", nil
}
