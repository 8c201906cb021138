package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql database handle with the embedded migration
// filesystem so services only deal with transactions.
type DB struct {
	*sql.DB

	dsn  string
	fsys fs.FS
}

func NewDB(dsn string, fsys fs.FS) *DB {
	return &DB{dsn: dsn, fsys: fsys}
}

// Open opens the database and brings the schema up to date.
func (db *DB) Open() (err error) {
	if db.dsn == "" {
		return fmt.Errorf("dsn required")
	}

	db.DB, err = sql.Open("sqlite3", db.dsn)
	if err != nil {
		return err
	}

	if _, err := db.Exec(`PRAGMA journal_mode = wal`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return db.migrate()
}

// migrate executes the embedded migration files in name order. Each file
// runs in its own transaction and is recorded in the migrations table so
// it only ever runs once.
func (db *DB) migrate() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (name TEXT PRIMARY KEY)`)
	if err != nil {
		return fmt.Errorf("cannot create migrations table: %w", err)
	}

	names, err := fs.Glob(db.fsys, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		if err := db.migrateFile(name); err != nil {
			return fmt.Errorf("migration error: name=%q err=%w", name, err)
		}
	}

	return nil
}

func (db *DB) migrateFile(name string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRow(`SELECT COUNT(*) FROM migrations WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return err
	}
	if n != 0 {
		return nil
	}

	buf, err := fs.ReadFile(db.fsys, name)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(string(buf)); err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO migrations (name) VALUES (?)`, name); err != nil {
		return err
	}

	return tx.Commit()
}
