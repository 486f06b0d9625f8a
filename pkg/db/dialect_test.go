package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectRegistry(t *testing.T) {
	assert.True(t, IsSupported("postgres"))
	assert.True(t, IsSupported("postgresql"))
	assert.True(t, IsSupported("MySQL"))
	assert.True(t, IsSupported(" oracle "))
	assert.False(t, IsSupported("sqlite"))

	assert.Equal(t, []string{"mysql", "oracle", "postgres", "postgresql"}, SupportedKinds())

	pg, err := GetDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Kind())

	_, err = GetDialect("db2")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	assert.Contains(t, err.Error(), "db2")
}

func TestRegisterDialect(t *testing.T) {
	RegisterDialect("CockroachDB", postgresDialect{})
	t.Cleanup(func() {
		dialectsMu.Lock()
		delete(dialects, "cockroachdb")
		dialectsMu.Unlock()
	})

	d, err := GetDialect("cockroachdb")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Kind())
}

func TestPostgresDSN(t *testing.T) {
	d := postgresDialect{}

	dsn, err := d.DSN(Config{
		Host:     "localhost",
		Port:     5432,
		User:     "app",
		Password: "it's secret",
		Name:     "appdb",
		Schema:   "sales",
		SSLMode:  "require",

		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`host=localhost port=5432 user=app password='it\'s secret' dbname=appdb sslmode=require connect_timeout=10 search_path=sales`,
		dsn)

	dsn, err = d.DSN(Config{Host: "localhost", Port: 5432, User: "app", Password: "pw", Name: "appdb"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=disable")
	assert.NotContains(t, dsn, "search_path")
}

func TestMySQLDSN(t *testing.T) {
	d := mysqlDialect{}

	dsn, err := d.DSN(Config{
		Host:     "db",
		Port:     3306,
		User:     "root",
		Password: "pw",
		Name:     "shop",
		Charset:  "utf8mb4",
		SSLMode:  "required",

		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, "root:pw@tcp(db:3306)/shop?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "tls=skip-verify")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestMySQLTLSMapping(t *testing.T) {
	assert.Equal(t, "", mysqlTLS(""))
	assert.Equal(t, "false", mysqlTLS("disable"))
	assert.Equal(t, "preferred", mysqlTLS("PREFERRED"))
	assert.Equal(t, "true", mysqlTLS("verify-full"))
	assert.Equal(t, "custom", mysqlTLS("custom"))
}

func TestOracleDSN(t *testing.T) {
	d := oracleDialect{}
	base := Config{Host: "ora", Port: 1521, User: "scott", Password: `ti"ger`}

	cfg := base
	cfg.ServiceName = "ORCLPDB1"
	cfg.SID = "ORCL"
	dsn, err := d.DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, `user="scott" password="ti\"ger" connectString="ora:1521/ORCLPDB1"`, dsn)

	cfg = base
	cfg.SID = "ORCL"
	dsn, err = d.DSN(cfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, "(CONNECT_DATA=(SID=ORCL))")

	cfg = base
	cfg.Name = "XE"
	dsn, err = d.DSN(cfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, `connectString="ora:1521/XE"`)

	_, err = d.DSN(base)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDefaultSchema(t *testing.T) {
	assert.Equal(t, "public", postgresDialect{}.DefaultSchema(Config{}))
	assert.Equal(t, "sales", postgresDialect{}.DefaultSchema(Config{Schema: "sales"}))
	assert.Equal(t, "shop", mysqlDialect{}.DefaultSchema(Config{Name: "shop"}))
	assert.Equal(t, "SCOTT", oracleDialect{}.DefaultSchema(Config{User: "scott"}))
	assert.Equal(t, "HR", oracleDialect{}.DefaultSchema(Config{User: "scott", Schema: "hr"}))
}

func TestOracleCatalogQueriesUppercase(t *testing.T) {
	_, args := oracleDialect{}.ColumnsQuery("hr", "employees")
	assert.Equal(t, []interface{}{"HR", "EMPLOYEES"}, args)

	q, args := oracleDialect{}.TablesQuery("")
	assert.Contains(t, q, "user_tables")
	assert.Nil(t, args)
}

func newMockDatabase(t *testing.T, kind string) (Database, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	database, err := Wrap(Config{Type: kind, Host: "localhost", Port: 1}, sqlDB)
	require.NoError(t, err)
	return database, mock
}

func TestPostgresExplainPlan(t *testing.T) {
	database, mock := newMockDatabase(t, "postgres")

	mock.ExpectQuery("EXPLAIN (FORMAT JSON) SELECT * FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(`[{"Plan":{"Node Type":"Seq Scan"}}]`))

	plan, planType, err := database.Dialect().ExplainPlan(context.Background(), database, "SELECT * FROM users;")
	require.NoError(t, err)
	assert.Equal(t, "EXPLAIN (FORMAT JSON)", planType)

	nodes, ok := plan.([]interface{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Seq Scan", nodes[0].(map[string]interface{})["Plan"].(map[string]interface{})["Node Type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLExplainPlanFallsBackToText(t *testing.T) {
	database, mock := newMockDatabase(t, "mysql")

	mock.ExpectQuery("EXPLAIN FORMAT=JSON SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"EXPLAIN"}).AddRow("not json"))

	plan, planType, err := database.Dialect().ExplainPlan(context.Background(), database, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "EXPLAIN FORMAT=JSON", planType)
	assert.Equal(t, "not json", plan)
}

func TestOracleExplainPlan(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	database, err := Wrap(Config{Type: "oracle", Host: "ora", Port: 1521}, sqlDB)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("EXPLAIN PLAN SET STATEMENT_ID = 'mcp_") + ".*" + regexp.QuoteMeta("' FOR SELECT * FROM dual")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT plan_table_output FROM TABLE(DBMS_XPLAN.DISPLAY")).
		WillReturnRows(sqlmock.NewRows([]string{"PLAN_TABLE_OUTPUT"}).
			AddRow("Plan hash value: 1").
			AddRow("| 0 | SELECT STATEMENT |"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM plan_table WHERE statement_id = :1")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	plan, planType, err := database.Dialect().ExplainPlan(context.Background(), database, "SELECT * FROM dual")
	require.NoError(t, err)
	assert.Equal(t, "EXPLAIN PLAN + DBMS_XPLAN.DISPLAY", planType)
	assert.Equal(t, []string{"Plan hash value: 1", "| 0 | SELECT STATEMENT |"}, plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}
