package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FreePeak/database-mcp-server/pkg/logger"
)

// Connection is a tracked, open database connection
type Connection struct {
	ID         string
	SourceName string
	Config     Config
	DB         Database
	CreatedAt  time.Time

	mu       sync.Mutex
	lastUsed time.Time
	active   bool
}

// LastUsed returns the last time the connection was handed out
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Connection) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Connection) close() error {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	return c.DB.Close()
}

// ConnectionInfo is the client facing description of a tracked connection
type ConnectionInfo struct {
	ConnectionID string `json:"connection_id"`
	SourceName   string `json:"source_name"`
	DatabaseType string `json:"database_type"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	User         string `json:"user"`
	CreatedAt    string `json:"created_at"`
	LastUsed     string `json:"last_used"`
	IsActive     bool   `json:"is_active"`
}

// Info snapshots the connection
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnectionInfo{
		ConnectionID: c.ID,
		SourceName:   c.SourceName,
		DatabaseType: c.Config.Type,
		Host:         c.Config.Host,
		Port:         c.Config.Port,
		Database:     c.Config.Name,
		User:         c.Config.User,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		LastUsed:     c.lastUsed.Format(time.RFC3339),
		IsActive:     c.active,
	}
}

// Opener creates a connected Database for a configuration
type Opener func(ctx context.Context, cfg Config) (Database, error)

// Open is the default Opener: build the engine and verify it answers.
func Open(_ context.Context, cfg Config) (Database, error) {
	database, err := NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s database at %s:%d: %w", cfg.Type, cfg.Host, cfg.Port, err)
	}
	return database, nil
}

// Manager manages multiple database connections
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	open        Opener
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithOpener replaces the function used to open new connections
func WithOpener(open Opener) ManagerOption {
	return func(m *Manager) {
		m.open = open
	}
}

// NewDBManager creates a new database manager
func NewDBManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		connections: make(map[string]*Connection),
		open:        Open,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a connection for the named source and starts tracking it.
// Nothing is registered when the connection cannot be established.
func (m *Manager) Create(ctx context.Context, sourceName string, cfg Config) (string, error) {
	database, err := m.open(ctx, cfg)
	if err != nil {
		logger.Error("Error creating connection for %s: %v", sourceName, err)
		return "", err
	}

	now := time.Now()
	conn := &Connection{
		ID:         uuid.NewString(),
		SourceName: sourceName,
		Config:     cfg,
		DB:         database,
		CreatedAt:  now,
		lastUsed:   now,
		active:     true,
	}

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()

	logger.Info("Created connection %s for %s (%s)", conn.ID, sourceName, cfg.Type)
	return conn.ID, nil
}

// Get returns an active connection and marks it used
func (m *Manager) Get(id string) (*Connection, error) {
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()

	if !ok || !conn.isActive() {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	conn.touch()
	return conn, nil
}

// GetDB returns the database behind an active connection
func (m *Manager) GetDB(id string) (Database, error) {
	conn, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.DB, nil
}

// List returns the active connections, oldest first
func (m *Manager) List() []ConnectionInfo {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		if c.isActive() {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreatedAt.Equal(conns[j].CreatedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos
}

// Close closes a connection and forgets it. It reports whether the ID was known.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := conn.close(); err != nil {
		logger.Error("Error closing connection %s: %v", id, err)
	} else {
		logger.Info("Closed connection %s", id)
	}
	return true
}

// CloseAll closes all database connections
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection %s: %w", id, err))
		}
	}
	logger.Info("All database connections closed")

	return errors.Join(errs...)
}

// CleanupInactive closes connections unused for longer than maxAge and
// returns how many were closed. Staleness is decided under the write lock,
// so a connection handed out by Get is never reaped.
func (m *Manager) CleanupInactive(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Connection
	for id, conn := range m.connections {
		if conn.LastUsed().Before(cutoff) {
			stale = append(stale, conn)
			delete(m.connections, id)
		}
	}
	m.mu.Unlock()

	for _, conn := range stale {
		if err := conn.close(); err != nil {
			logger.Error("Error closing inactive connection %s: %v", conn.ID, err)
		}
		logger.Info("Cleaned up inactive connection %s", conn.ID)
	}
	return len(stale)
}

// StartCleanup runs CleanupInactive every interval until ctx is done
func (m *Manager) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.CleanupInactive(maxAge); n > 0 {
					logger.Info("Closed %d inactive connection(s)", n)
				}
				if n := m.CheckHealth(ctx); n > 0 {
					logger.Warn("Closed %d unreachable connection(s)", n)
				}
			}
		}
	}()
}

// healthCheckTimeout bounds one round of connection pings
const healthCheckTimeout = 5 * time.Second

// CheckHealth pings every connection and closes the ones that fail. It
// returns how many were closed.
func (m *Manager) CheckHealth(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	closed := 0
	for id, err := range m.Ping(ctx) {
		if err == nil {
			continue
		}
		logger.Warn("Connection %s failed health check: %v", id, err)
		if m.Close(id) {
			closed++
		}
	}
	return closed
}

// Ping checks if all database connections are alive
func (m *Manager) Ping(ctx context.Context) map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]error)
	for id, conn := range m.connections {
		results[id] = conn.DB.Ping(ctx)
	}
	return results
}
