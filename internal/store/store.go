// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store is the authoritative typed persistence layer for the
// Sparkplug B entity graph (Group, EdgeNode, Device, Metric) and its
// per-datatype metric history tables.
//
// Writes are serialized behind a single mutex, matching the single-writer
// discipline the teacher's own sqlite3 connection pool enforces
// (MaxOpenConns(1)); reads go through the driver's own connection pool
// and require no additional locking.
package store

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/qustavo/sqlhooks/v2"

	"database/sql"

	"github.com/edgeworks-io/sparkplughost/pkg/log"

	mysqldriver "github.com/golang-migrate/migrate/v4/database/mysql"
	sqlite3driver "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite3/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/mysql/*.sql
var mysqlMigrations embed.FS

// Status is an EdgeNode or Device's liveness state (spec.md §3).
type Status string

const (
	StatusNA      Status = "NA"
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// EntityType tags a row's table for the generic Get/Set dispatch (spec.md §4.2).
type EntityType int

const (
	EntityGroup EntityType = iota
	EntityEdgeNode
	EntityDevice
	EntityMetric
)

func (e EntityType) String() string {
	switch e {
	case EntityGroup:
		return "Group"
	case EntityEdgeNode:
		return "EdgeNode"
	case EntityDevice:
		return "Device"
	case EntityMetric:
		return "Metric"
	default:
		return "Unknown"
	}
}

// Attribute is a fixed per-entity-type attribute name accepted by Get/Set.
type Attribute string

const (
	AttrName     Attribute = "name"
	AttrGroup    Attribute = "group"
	AttrNode     Attribute = "node"
	AttrStatus   Attribute = "status"
	AttrBirthTS  Attribute = "birth_ts"
	AttrDeathTS  Attribute = "death_ts"
	AttrDatatype Attribute = "datatype"
	AttrValue    Attribute = "value"
	AttrValues   Attribute = "values"
	AttrTS       Attribute = "timestamp"
	AttrMetrics  Attribute = "metrics"
)

// Sample is one historical (value, timestamp) pair for a metric.
type Sample struct {
	Value     any   `db:"metric_value"`
	Timestamp int64 `db:"metric_timestamp"`
}

// Store is the concurrency-safe handle to the entity graph.
type Store struct {
	db      *sqlx.DB
	driver  string
	writeMu sync.Mutex
	builder sq.StatementBuilderType
}

// registerHooksOnce guards the process-wide driver registration: database/sql
// panics if the same driver name is registered twice.
var registerHooksOnce sync.Once

// Connect opens the database, wraps the driver with qustavo/sqlhooks for
// per-statement debug timing, and applies embedded schema migrations.
// driver is "sqlite3" or "mysql"; dsn is a file path or "file:" URI
// (sqlite3) or a go-sql-driver/mysql DSN (mysql).
func Connect(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error
	var placeholder sq.PlaceholderFormat = sq.Question

	switch driver {
	case "sqlite3":
		registerHooksOnce.Do(func() {
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHook{}))
		})
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err = sqlx.Open("sqlite3WithHooks", dsn+sep+"_foreign_keys=on&_case_sensitive_like=on")
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		db, err = sqlx.Open("mysql", fmt.Sprintf("%s?multiStatements=true", dsn))
		if err == nil {
			db.SetConnMaxLifetime(3 * time.Minute)
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(10)
		}
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	if err := migrateSchema(driver, db.DB); err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
	return s, nil
}

func migrateSchema(driver string, db *sql.DB) error {
	var dbDriver database.Driver
	var err error

	switch driver {
	case "sqlite3":
		sub, subErr := iofs.New(sqliteMigrations, "migrations/sqlite3")
		if subErr != nil {
			return fmt.Errorf("store: load sqlite3 migrations: %w", subErr)
		}
		dbDriver, err = sqlite3driver.WithInstance(db, &sqlite3driver.Config{})
		if err != nil {
			return fmt.Errorf("store: sqlite3 migrate driver: %w", err)
		}
		m, mErr := migrate.NewWithInstance("iofs", sub, "sqlite3", dbDriver)
		if mErr != nil {
			return fmt.Errorf("store: migrate init: %w", mErr)
		}
		if mErr := m.Up(); mErr != nil && mErr != migrate.ErrNoChange {
			return fmt.Errorf("store: migrate up: %w", mErr)
		}
		return nil
	case "mysql":
		sub, subErr := iofs.New(mysqlMigrations, "migrations/mysql")
		if subErr != nil {
			return fmt.Errorf("store: load mysql migrations: %w", subErr)
		}
		dbDriver, err = mysqldriver.WithInstance(db, &mysqldriver.Config{})
		if err != nil {
			return fmt.Errorf("store: mysql migrate driver: %w", err)
		}
		m, mErr := migrate.NewWithInstance("iofs", sub, "mysql", dbDriver)
		if mErr != nil {
			return fmt.Errorf("store: migrate init: %w", mErr)
		}
		if mErr := m.Up(); mErr != nil && mErr != migrate.ErrNoChange {
			return fmt.Errorf("store: migrate up: %w", mErr)
		}
		return nil
	default:
		return fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryHook logs every statement's duration at debug level, the same
// instrumentation point the teacher wires sqlhooks into.
type queryHook struct{}

type queryBeginKey struct{}

func (h *queryHook) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	return context.WithValue(ctx, queryBeginKey{}, time.Now()), nil
}

func (h *queryHook) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if begin, ok := ctx.Value(queryBeginKey{}).(time.Time); ok {
		log.Debugf("store: %s (took %s)", query, time.Since(begin))
	} else {
		log.Debugf("store: %s", query)
	}
	return ctx, nil
}
