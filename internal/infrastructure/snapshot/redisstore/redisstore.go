// Package redisstore keeps the snapshot as three Redis keys written in one MULTI/EXEC.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/codec"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "keyshop:"

const (
	productsKey   = "products"
	cardKeysKey   = "card_keys"
	payHistoryKey = "payhistory"
)

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ snapshot.Gateway = (*Store)(nil)

// New stores the snapshot under keys that start with prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) keys() []string {
	return []string{s.prefix + productsKey, s.prefix + cardKeysKey, s.prefix + payHistoryKey}
}

func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	values, err := s.client.MGet(ctx, s.keys()...).Result()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("redisstore: mget: %w", err)
	}

	present := 0
	for _, v := range values {
		if v != nil {
			present++
		}
	}
	switch present {
	case 0:
		return snapshot.Empty(), nil
	case len(values):
	default:
		return snapshot.Snapshot{}, fmt.Errorf("%w: only %d of %d records present", snapshot.ErrCorruptSnapshot, present, len(values))
	}

	doc := codec.Document{Version: codec.Version}
	targets := []any{&doc.Products, &doc.CardKeys, &doc.PayHistory}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return snapshot.Snapshot{}, fmt.Errorf("%w: %s is not a string", snapshot.ErrCorruptSnapshot, s.keys()[i])
		}
		if err := json.Unmarshal([]byte(raw), targets[i]); err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("%w: %s: %w", snapshot.ErrCorruptSnapshot, s.keys()[i], err)
		}
	}
	return doc.Snapshot()
}

func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	doc := codec.FromSnapshot(snap)
	values := make([][]byte, 0, 3)
	for _, v := range []any{doc.Products, doc.CardKeys, doc.PayHistory} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redisstore: encode: %w", err)
		}
		values = append(values, b)
	}

	keys := s.keys()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			pipe.Set(ctx, key, values[i], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: exec: %w", err)
	}
	return nil
}
