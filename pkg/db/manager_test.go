package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOpener hands out sqlmock backed databases and remembers the mocks
type mockOpener struct {
	mocks []sqlmock.Sqlmock
	err   error
}

func (o *mockOpener) open(_ context.Context, cfg Config) (Database, error) {
	if o.err != nil {
		return nil, o.err
	}
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	mock.ExpectClose()
	o.mocks = append(o.mocks, mock)
	return Wrap(cfg, sqlDB)
}

func testConfig() Config {
	return Config{Type: "postgres", Host: "localhost", Port: 5432, User: "app", Name: "appdb"}
}

func TestManagerCreateAndGet(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "main", testConfig())
	require.NoError(t, err)
	assert.Len(t, id, 36)

	conn, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "main", conn.SourceName)
	assert.Equal(t, "postgres", conn.DB.Kind())

	database, err := m.GetDB(id)
	require.NoError(t, err)
	assert.Same(t, conn.DB, database)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestManagerCreateFailureRegistersNothing(t *testing.T) {
	opener := &mockOpener{err: errors.New("connection refused")}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "main", testConfig())
	assert.Error(t, err)
	assert.Empty(t, id)
	assert.Empty(t, m.List())
}

func TestManagerListSortedByCreation(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	first, err := m.Create(context.Background(), "first", testConfig())
	require.NoError(t, err)
	second, err := m.Create(context.Background(), "second", testConfig())
	require.NoError(t, err)

	// Force a deterministic order
	m.connections[first].CreatedAt = time.Now().Add(-time.Minute)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ConnectionID)
	assert.Equal(t, second, list[1].ConnectionID)
	assert.Equal(t, "first", list[0].SourceName)
	assert.Equal(t, "postgres", list[0].DatabaseType)
	assert.Equal(t, 5432, list[0].Port)
	assert.Equal(t, "appdb", list[0].Database)
	assert.Equal(t, "app", list[0].User)
	assert.True(t, list[0].IsActive)
	_, err = time.Parse(time.RFC3339, list[0].CreatedAt)
	assert.NoError(t, err)
}

func TestManagerClose(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "main", testConfig())
	require.NoError(t, err)

	assert.True(t, m.Close(id))
	assert.False(t, m.Close(id))

	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.NoError(t, opener.mocks[0].ExpectationsWereMet())
}

func TestManagerCloseAll(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	for i := 0; i < 3; i++ {
		_, err := m.Create(context.Background(), "main", testConfig())
		require.NoError(t, err)
	}

	require.NoError(t, m.CloseAll())
	assert.Empty(t, m.List())
	for _, mock := range opener.mocks {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestManagerCleanupInactive(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	stale, err := m.Create(context.Background(), "stale", testConfig())
	require.NoError(t, err)
	fresh, err := m.Create(context.Background(), "fresh", testConfig())
	require.NoError(t, err)

	m.connections[stale].lastUsed = time.Now().Add(-2 * time.Hour)

	assert.Equal(t, 1, m.CleanupInactive(time.Hour))

	_, err = m.Get(stale)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	_, err = m.Get(fresh)
	assert.NoError(t, err)

	assert.Equal(t, 0, m.CleanupInactive(time.Hour))
}

func TestManagerCleanupSparesTouchedConnection(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "main", testConfig())
	require.NoError(t, err)
	m.connections[id].lastUsed = time.Now().Add(-2 * time.Hour)

	_, err = m.Get(id)
	require.NoError(t, err)

	assert.Equal(t, 0, m.CleanupInactive(time.Hour))
	assert.Len(t, m.List(), 1)
}

func TestManagerQueryRowAfterClose(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "main", testConfig())
	require.NoError(t, err)
	database, err := m.GetDB(id)
	require.NoError(t, err)

	require.True(t, m.Close(id))

	var v string
	assert.ErrorIs(t, database.QueryRow(context.Background(), "SELECT version()").Scan(&v), ErrNoDatabase)
	_, err = database.Exec(context.Background(), "DELETE FROM t")
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestManagerCheckHealth(t *testing.T) {
	var mocks []sqlmock.Sqlmock
	m := NewDBManager(WithOpener(func(_ context.Context, cfg Config) (Database, error) {
		sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		mocks = append(mocks, mock)
		return Wrap(cfg, sqlDB)
	}))

	healthy, err := m.Create(context.Background(), "healthy", testConfig())
	require.NoError(t, err)
	broken, err := m.Create(context.Background(), "broken", testConfig())
	require.NoError(t, err)

	mocks[0].ExpectPing()
	mocks[1].ExpectPing().WillReturnError(errors.New("connection reset by peer"))
	mocks[1].ExpectClose()

	assert.Equal(t, 1, m.CheckHealth(context.Background()))

	_, err = m.Get(healthy)
	assert.NoError(t, err)
	_, err = m.Get(broken)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.NoError(t, mocks[1].ExpectationsWereMet())
}

func TestManagerStartCleanup(t *testing.T) {
	opener := &mockOpener{}
	m := NewDBManager(WithOpener(opener.open))

	id, err := m.Create(context.Background(), "stale", testConfig())
	require.NoError(t, err)
	m.connections[id].lastUsed = time.Now().Add(-time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartCleanup(ctx, 10*time.Millisecond, time.Minute)

	assert.Eventually(t, func() bool {
		return len(m.List()) == 0
	}, time.Second, 10*time.Millisecond)
}
