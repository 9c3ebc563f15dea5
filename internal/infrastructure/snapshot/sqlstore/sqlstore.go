// Package sqlstore keeps the snapshot in three SQL tables rewritten in one transaction.
// It serves both MySQL and SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

var ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS keyshop_products (
		name VARCHAR(255) NOT NULL PRIMARY KEY,
		position INTEGER NOT NULL,
		description TEXT NOT NULL,
		price BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS keyshop_card_keys (
		product VARCHAR(255) NOT NULL,
		position INTEGER NOT NULL,
		card_key TEXT NOT NULL,
		PRIMARY KEY (product, position)
	)`,
	`CREATE TABLE IF NOT EXISTS keyshop_pay_history (
		user_id VARCHAR(255) NOT NULL,
		position INTEGER NOT NULL,
		charge_id TEXT NOT NULL,
		PRIMARY KEY (user_id, position)
	)`,
}

type Store struct {
	db *sql.DB
}

var _ snapshot.Gateway = (*Store)(nil)

// Open connects with the given driver and creates the tables when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverMySQL:
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("sqlstore: mysql dsn: %w", err)
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; SQLite rejects concurrent write transactions.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open MySQL or SQLite handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	snap := snapshot.Empty()

	rows, err := tx.QueryContext(ctx, `SELECT name, description, price FROM keyshop_products ORDER BY position`)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlstore: query products: %w", err)
	}
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.Name, &p.Description, &p.Price); err != nil {
			rows.Close()
			return snapshot.Snapshot{}, fmt.Errorf("sqlstore: scan product: %w", err)
		}
		snap.Products = append(snap.Products, p)
		snap.Pools[p.Name] = []string{}
	}
	if err := closeRows(rows); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlstore: products: %w", err)
	}

	if err := collect(ctx, tx, `SELECT product, card_key FROM keyshop_card_keys ORDER BY product, position`, snap.Pools); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlstore: card keys: %w", err)
	}
	if err := collect(ctx, tx, `SELECT user_id, charge_id FROM keyshop_pay_history ORDER BY user_id, position`, snap.History); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("sqlstore: pay history: %w", err)
	}

	if err := snap.Validate(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	snap = snap.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"keyshop_products", "keyshop_card_keys", "keyshop_pay_history"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlstore: clear %s: %w", table, err)
		}
	}

	for i, p := range snap.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keyshop_products (name, position, description, price) VALUES (?, ?, ?, ?)`,
			p.Name, i, p.Description, p.Price,
		); err != nil {
			return fmt.Errorf("sqlstore: insert product: %w", err)
		}
	}
	if err := insertLists(ctx, tx, `INSERT INTO keyshop_card_keys (product, position, card_key) VALUES (?, ?, ?)`, snap.Pools); err != nil {
		return fmt.Errorf("sqlstore: insert card keys: %w", err)
	}
	if err := insertLists(ctx, tx, `INSERT INTO keyshop_pay_history (user_id, position, charge_id) VALUES (?, ?, ?)`, snap.History); err != nil {
		return fmt.Errorf("sqlstore: insert pay history: %w", err)
	}

	return tx.Commit()
}

func collect(ctx context.Context, tx *sql.Tx, query string, into map[string][]string) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	for rows.Next() {
		var owner, value string
		if err := rows.Scan(&owner, &value); err != nil {
			rows.Close()
			return err
		}
		into[owner] = append(into[owner], value)
	}
	return closeRows(rows)
}

func insertLists(ctx context.Context, tx *sql.Tx, query string, lists map[string][]string) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for owner, values := range lists {
		for i, v := range values {
			if _, err := stmt.ExecContext(ctx, owner, i, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
