// Package pgstore keeps the snapshot in PostgreSQL.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pingTimeout = 3 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS keyshop_products (
	name TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	price BIGINT NOT NULL CHECK (price > 0)
);
CREATE TABLE IF NOT EXISTS keyshop_card_keys (
	product TEXT NOT NULL,
	position INTEGER NOT NULL,
	card_key TEXT NOT NULL,
	PRIMARY KEY (product, position)
);
CREATE TABLE IF NOT EXISTS keyshop_pay_history (
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	charge_id TEXT NOT NULL,
	PRIMARY KEY (user_id, position)
);`

type Store struct {
	pool *pgxpool.Pool
}

var _ snapshot.Gateway = (*Store)(nil)

// Open builds a pool, checks connectivity and creates the tables when missing.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New uses pool for every Load and Save; Migrate must have run first.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	snap := snapshot.Empty()

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT name, description, price FROM keyshop_products ORDER BY position`)
		if err != nil {
			return fmt.Errorf("query products: %w", err)
		}
		var p catalog.Product
		if _, err := pgx.ForEachRow(rows, []any{&p.Name, &p.Description, &p.Price}, func() error {
			snap.Products = append(snap.Products, p)
			snap.Pools[p.Name] = []string{}
			return nil
		}); err != nil {
			return fmt.Errorf("products: %w", err)
		}

		if err := collect(ctx, tx, `SELECT product, card_key FROM keyshop_card_keys ORDER BY product, position`, snap.Pools); err != nil {
			return fmt.Errorf("card keys: %w", err)
		}
		if err := collect(ctx, tx, `SELECT user_id, charge_id FROM keyshop_pay_history ORDER BY user_id, position`, snap.History); err != nil {
			return fmt.Errorf("pay history: %w", err)
		}
		return nil
	})
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("pgstore: load: %w", err)
	}

	if err := snap.Validate(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	snap = snap.Normalize()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE keyshop_products, keyshop_card_keys, keyshop_pay_history`); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}

		products := make([][]any, 0, len(snap.Products))
		for i, p := range snap.Products {
			products = append(products, []any{p.Name, int32(i), p.Description, p.Price})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"keyshop_products"},
			[]string{"name", "position", "description", "price"}, pgx.CopyFromRows(products)); err != nil {
			return fmt.Errorf("copy products: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"keyshop_card_keys"},
			[]string{"product", "position", "card_key"}, pgx.CopyFromRows(listRows(snap.Pools))); err != nil {
			return fmt.Errorf("copy card keys: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"keyshop_pay_history"},
			[]string{"user_id", "position", "charge_id"}, pgx.CopyFromRows(listRows(snap.History))); err != nil {
			return fmt.Errorf("copy pay history: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pgstore: save: %w", err)
	}
	return nil
}

func collect(ctx context.Context, tx pgx.Tx, query string, into map[string][]string) error {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return err
	}
	var owner, value string
	_, err = pgx.ForEachRow(rows, []any{&owner, &value}, func() error {
		into[owner] = append(into[owner], value)
		return nil
	})
	return err
}

func listRows(lists map[string][]string) [][]any {
	var out [][]any
	for owner, values := range lists {
		for i, v := range values {
			out = append(out, []any{owner, int32(i), v})
		}
	}
	return out
}
