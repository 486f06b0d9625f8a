package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	// Import database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/lib/pq"

	"github.com/FreePeak/database-mcp-server/pkg/logger"
)

// Common database errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoDatabase         = errors.New("no database connection")
	ErrUnsupportedKind    = errors.New("unsupported database type")
	ErrConnectionNotFound = errors.New("connection not found or inactive")
)

// Config represents database connection configuration
type Config struct {
	Type     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Optional, kind specific
	Schema         string
	ServiceName    string
	SID            string
	SSLMode        string
	Charset        string
	ConnectTimeout time.Duration

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SetDefaults sets default values for the configuration if they are not set
func (c *Config) SetDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 15
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 30 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Database represents a generic database interface
type Database interface {
	// Core database operations
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// Transaction support
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	// Connection management
	Connect() error
	Close() error
	Ping(ctx context.Context) error

	// Metadata
	Kind() string
	Dialect() Dialect
	Config() Config
	DriverName() string
	ConnectionString() string

	// DB object access (for specific DB operations)
	DB() *sql.DB
}

// database is the concrete implementation of the Database interface
type database struct {
	config     Config
	dialect    Dialect
	driverName string
	dsn        string

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// noDatabase is a connector that never connects. It backs QueryRow on a
// database that is not connected, so callers get ErrNoDatabase from Scan.
type noDatabase struct{}

func (noDatabase) Connect(context.Context) (driver.Conn, error) { return nil, ErrNoDatabase }
func (noDatabase) Driver() driver.Driver { return noDatabase{} }
func (noDatabase) Open(string) (driver.Conn, error) { return nil, ErrNoDatabase }

var unavailable = sync.OnceValue(func() *sql.DB { return sql.OpenDB(noDatabase{}) })

// handle returns the open pool, or ErrNoDatabase before Connect and after Close.
// A pool handed out just before Close reports "sql: database is closed".
func (d *database) handle() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil || d.closed {
		return nil, ErrNoDatabase
	}
	return d.db, nil
}

// NewDatabase creates a new database connection based on the provided configuration
func NewDatabase(config Config) (Database, error) {
	// Set default values for the configuration
	config.SetDefaults()

	dialect, err := GetDialect(config.Type)
	if err != nil {
		return nil, err
	}

	dsn, err := dialect.DSN(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s connection string: %w", dialect.Kind(), err)
	}

	return &database{
		config:     config,
		dialect:    dialect,
		driverName: dialect.DriverName(),
		dsn:        dsn,
	}, nil
}

// Wrap adapts an already opened *sql.DB. The returned Database is connected.
func Wrap(config Config, sqlDB *sql.DB) (Database, error) {
	if sqlDB == nil {
		return nil, ErrNoDatabase
	}
	config.SetDefaults()

	dialect, err := GetDialect(config.Type)
	if err != nil {
		return nil, err
	}

	return &database{
		config:     config,
		dialect:    dialect,
		db:         sqlDB,
		driverName: dialect.DriverName(),
	}, nil
}

// Connect establishes a connection to the database
func (d *database) Connect() error {
	db, err := sql.Open(d.driverName, d.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(d.config.MaxOpenConns)
	db.SetMaxIdleConns(d.config.MaxIdleConns)
	db.SetConnMaxLifetime(d.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(d.config.ConnMaxIdleTime)

	// Verify connection is working
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing database connection: %v", closeErr)
		}
		logger.Error("Failed to connect to %s database at %s:%d: %v", d.dialect.Kind(), d.config.Host, d.config.Port, err)
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.mu.Lock()
	if d.db != nil && !d.closed {
		_ = d.db.Close()
	}
	d.db, d.closed = db, false
	d.mu.Unlock()
	logger.Info("Connected to %s database at %s:%d/%s", d.dialect.Kind(), d.config.Host, d.config.Port, d.config.Name)

	return nil
}

// Close closes the database connection. Calls that already hold the pool
// fail with "sql: database is closed"; later calls get ErrNoDatabase.
func (d *database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil || d.closed {
		return nil
	}
	d.closed = true
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", d.dialect.Kind(), err)
	}
	return nil
}

// Ping checks if the database connection is still alive
func (d *database) Ping(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Query executes a query that returns rows
func (d *database) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that is expected to return at most one row. The
// row is never nil; without a connection its Scan reports ErrNoDatabase.
func (d *database) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	db, err := d.handle()
	if err != nil {
		db = unavailable()
	}
	return db.QueryRowContext(ctx, query, args...)
}

// Exec executes a query without returning any rows
func (d *database) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction
func (d *database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, opts)
}

// DB returns the underlying pool, or nil when not connected
func (d *database) DB() *sql.DB {
	db, _ := d.handle()
	return db
}

// Kind returns the canonical database kind (postgres, mysql, oracle)
func (d *database) Kind() string {
	return d.dialect.Kind()
}

// Dialect returns the SQL dialect of this database
func (d *database) Dialect() Dialect {
	return d.dialect
}

// Config returns a copy of the configuration the database was created with
func (d *database) Config() Config {
	return d.config
}

// DriverName returns the name of the database driver
func (d *database) DriverName() string {
	return d.driverName
}

// ConnectionString returns the connection string (with password masked)
func (d *database) ConnectionString() string {
	masked := d.config
	if masked.Password != "" {
		masked.Password = "***"
	}
	dsn, err := d.dialect.DSN(masked)
	if err != nil {
		return "unknown"
	}
	return dsn
}
