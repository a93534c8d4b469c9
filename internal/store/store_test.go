package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/airq-ingestion/internal/config"
)

// newTestDB opens a migrated sqlite database in a temp file. A file, not
// :memory:, so every pooled connection sees the same schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DBConfig{
		Driver: "sqlite3",
		Name:   filepath.Join(t.TempDir(), "airq.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Migrate(context.Background())
	require.NoError(t, err)
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	applied, err := db.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)

	var versions []string
	require.NoError(t, db.db.Select(&versions, "SELECT version FROM schema_migrations"))
	assert.Equal(t, []string{"0001_init"}, versions)
}

func TestSessionAppend(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	n, err := sess.Append(ctx, "countries", []string{"id", "name"}, [][]any{
		{int64(1), "One"},
		{int64(2), "Two"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var names []string
	require.NoError(t, db.db.Select(&names, "SELECT name FROM countries ORDER BY id"))
	assert.Equal(t, []string{"One", "Two"}, names)
}

func TestSessionAppendSpansBatches(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	rows := make([][]any, 0, insertBatch*2+1)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < cap(rows); i++ {
		rows = append(rows, []any{at, int64(1), float64(i)})
	}

	n, err := sess.Append(ctx, "measurements", []string{"datetime", "sensor_id", "value"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(len(rows)), n)
}

func TestSessionAppendIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Append(ctx, "countries", []string{"id", "name"}, [][]any{{int64(1), "One"}})
	require.NoError(t, err)

	// The second row collides on the primary key; the first must not survive.
	_, err = sess.Append(ctx, "countries", []string{"id", "name"}, [][]any{
		{int64(2), "Two"},
		{int64(1), "Again"},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.db.Get(&count, "SELECT COUNT(*) FROM countries"))
	assert.Equal(t, 1, count)
}

func TestKnownLocationIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	ids, err := sess.KnownLocationIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = sess.Append(ctx, "locations", []string{"id", "name", "latitude", "longitude", "country_id"}, [][]any{
		{int64(30), "c", 0.0, 0.0, int64(1)},
		{int64(4), "a", 0.0, 0.0, int64(1)},
		{int64(200), "b", 0.0, 0.0, int64(1)},
	})
	require.NoError(t, err)

	ids, err = sess.KnownLocationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "30", "200"}, ids)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sess, err := db.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err = sess.Append(ctx, "countries", []string{"id", "name"}, [][]any{{int64(1), "x"}})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.KnownLocationIDs(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewPicksPlaceholderByDriver(t *testing.T) {
	raw, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer raw.Close()

	db := New(raw, zaptest.NewLogger(t))
	sql, err := db.placeholder.ReplacePlaceholders("a = ? AND b = ?")
	require.NoError(t, err)
	assert.Equal(t, "a = ? AND b = ?", sql)
	assert.Equal(t, "sqlite", db.dialect())
}
