package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/korero-labs/agstore/internal/ag"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Current layout (per-scope annotation tables, attribute definitions)
const currentSchemaVersion = 1

// driverName is the sqlite3 driver variant with the REGEXP function
// installed. AGQL .test() predicates and role value patterns both compile
// to REGEXP, so plain sqlite3 connections cannot run generated queries.
const driverName = "sqlite3_agstore"

var registerDriver sync.Once

// regexpCache memoizes compiled patterns across REGEXP calls. Generated
// queries repeat the same handful of patterns over many rows.
var regexpCache sync.Map

func sqlRegexp(pattern, value string) (bool, error) {
	if cached, ok := regexpCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	regexpCache.Store(pattern, re)
	return re.MatchString(value), nil
}

// A Store is one SQLite-backed annotation graph store. One Store holds one
// physical connection and serves one logical caller at a time; concurrent
// callers each Open their own Store.
type Store struct {
	db        *sql.DB
	schema    *ag.Schema
	filesRoot string

	validator  Validator
	normalizer Normalizer
	censor     Censor
	mediaTool  MediaTool

	serializers []Serializer
	clock       func() time.Time
}

// An Option adjusts how a store is opened.
type Option func(*Store)

// WithFilesRoot sets the directory under which binary-layer annotation
// payloads are resolved.
func WithFilesRoot(dir string) Option {
	return func(s *Store) { s.filesRoot = dir }
}

// WithValidator replaces the graph validator consulted before saves.
func WithValidator(v Validator) Option {
	return func(s *Store) { s.validator = v }
}

// WithNormalizer replaces the graph normalizer run before saves.
func WithNormalizer(n Normalizer) Option {
	return func(s *Store) { s.normalizer = n }
}

// WithCensor installs a label censor applied to graphs before saves.
func WithCensor(c Censor) Option {
	return func(s *Store) { s.censor = c }
}

// WithMediaTool installs the external media processor used by
// ProcessMedia. Without one, media operations fail with a StoreError.
func WithMediaTool(mt MediaTool) Option {
	return func(s *Store) { s.mediaTool = mt }
}

// WithClock replaces the wall clock used for change timestamps. Tests use
// this to pin annotated_when values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// Open creates or opens an annotation graph database at the given path.
// Applies required pragmas and migrations, then builds the immutable layer
// schema for the life of this store.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - Immediate transaction locking for writes
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", sqlRegexp, true)
			},
		})
	})

	// Write transactions take the database lock up front so a save never
	// deadlocks upgrading a deferred read lock mid-transaction.
	db, err := sql.Open(driverName, "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	schema, err := s.buildSchema()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.schema = schema
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Schema returns the layer schema built at Open. The returned value is
// immutable; callers must not modify the layers it holds.
func (s *Store) Schema() *ag.Schema { return s.schema }

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB { return s.db }

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}
