// Package database is the single SQL-backed store for everything the
// AdminService and AuthLayer need durably: tenants, entropy, macaroons,
// access tokens, payments, peers, and the per-tenant KV blobs the wallet
// and Persister layer above it read and write. One Postgres connection
// pool is shared by every tenant; all queries are scoped by tenant id or
// tenant pubkey rather than by a per-tenant schema, matching the "one
// persistent store" framing of spec §1.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/lib/pq"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Config holds the Postgres connection parameters. Mirrors the shape of
// DanielDucuara2018-btc-giftcard's database.Config, adapted to the
// pgx/v4 API the teacher's own go.mod pins.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// DB wraps a pgx connection pool plus the migration runner.
type DB struct {
	pool           *pgxpool.Pool
	migrationsPath string
}

// Open connects to Postgres and verifies reachability with a ping. It does
// not run migrations; call Migrate explicitly so callers control when
// schema changes happen.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "parse db config")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "connect to db")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "ping db")
	}

	migrationsPath := cfg.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "file://internal/database/migrations"
	}

	log.Infof("database connection pool established to %s:%s/%s", cfg.Host, cfg.Port, cfg.DBName)

	return &DB{pool: pool, migrationsPath: migrationsPath}, nil
}

// Migrate applies every pending golang-migrate migration.
func (db *DB) Migrate() error {
	connStr := db.pool.Config().ConnConfig.ConnString()
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindConfiguration, err, "open sql.DB for migration")
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindConfiguration, err, "create postgres migrate driver")
	}

	m, err := migrate.NewWithDatabaseInstance(db.migrationsPath, "postgres", driver)
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindConfiguration, err, "create migrate instance")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return lnerrors.Wrap(lnerrors.KindConfiguration, err, "run migrations")
	}

	log.Info("database migrations applied")
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pgx pool for WalletStore, which needs to
// issue its own scoped queries and run multi-statement transactions per
// chain-listener callback.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used to translate insert races into domain-specific
// Precondition/NotFound errors instead of a raw SQL error leaking out.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// noRows translates pgx.ErrNoRows into a NotFound lnerrors.Error with the
// given message.
func noRows(err error, format string, args ...interface{}) error {
	if err == pgx.ErrNoRows {
		return lnerrors.NotFound(format, args...)
	}
	return lnerrors.Wrap(lnerrors.KindChainFatal, err, format, args...)
}
