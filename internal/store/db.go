package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/config"
)

// DB is the connection pool sessions are drawn from.
type DB struct {
	db          *sqlx.DB
	placeholder sq.PlaceholderFormat
	log         *zap.Logger
}

// Open connects with the configured driver and verifies the connection.
func Open(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	return New(db, log), nil
}

// New wraps an already opened pool. The placeholder style follows the driver.
func New(db *sqlx.DB, log *zap.Logger) *DB {
	var ph sq.PlaceholderFormat = sq.Dollar
	if db.DriverName() == "sqlite3" {
		ph = sq.Question
	}
	return &DB{db: db, placeholder: ph, log: log.Named("store")}
}

// Session reserves one connection for the caller until Session.Close.
func (d *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	d.log.Debug("session opened")
	return &Session{conn: conn, placeholder: d.placeholder, log: d.log}, nil
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}
