package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-larkauth/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore is a durable core.TokenStorage. Entries keep the insertion
// sequence so eviction order survives restarts.
type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenEntryRecord]
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenEntryRecord](db, tokenEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token entry repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

// NewTokenStoreFromPersistence accepts a *bun.DB or any client exposing DB().
func NewTokenStoreFromPersistence(client any) (*TokenStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewTokenStore(db)
}

// Store upserts key. A re-stored key moves to the back of the eviction order.
func (s *TokenStore) Store(ctx context.Context, key string, entry core.CacheEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: cache key is required")
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sequence, err := nextSequenceTx(ctx, tx)
		if err != nil {
			return err
		}
		record := newTokenEntryRecord(key, entry, sequence)

		existing, err := findTokenEntryTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			record.ID = uuid.NewString()
			if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
				return createErr
			}
			return nil
		}
		record.ID = existing.ID
		if _, updateErr := tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		return nil
	})
}

func (s *TokenStore) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	if s == nil || s.repo == nil {
		return core.CacheEntry{}, false, fmt.Errorf("sqlstore: token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("cache_key", "=", strings.TrimSpace(key)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	if len(records) == 0 {
		return core.CacheEntry{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *TokenStore) Remove(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: token store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*tokenEntryRecord)(nil)).
		Where("cache_key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*tokenEntryRecord)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

func (s *TokenStore) Size(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: token store is not configured")
	}
	return s.db.NewSelect().
		Model((*tokenEntryRecord)(nil)).
		Count(ctx)
}

// Keys returns cache keys oldest first.
func (s *TokenStore) Keys(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	var keys []string
	err := s.db.NewSelect().
		Model((*tokenEntryRecord)(nil)).
		Column("cache_key").
		OrderExpr("sequence ASC").
		Scan(ctx, &keys)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *TokenStore) OldestKey(ctx context.Context) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: token store is not configured")
	}
	record := &tokenEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		OrderExpr("?TableAlias.sequence ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return record.CacheKey, true, nil
}

func findTokenEntryTx(ctx context.Context, tx bun.Tx, key string) (*tokenEntryRecord, error) {
	record := &tokenEntryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.cache_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func nextSequenceTx(ctx context.Context, tx bun.Tx) (int64, error) {
	var current sql.NullInt64
	err := tx.NewSelect().
		Model((*tokenEntryRecord)(nil)).
		ColumnExpr("MAX(sequence)").
		Scan(ctx, &current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if !current.Valid {
		return 1, nil
	}
	return current.Int64 + 1, nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.TokenStorage    = (*TokenStore)(nil)
	_ core.OldestKeyFinder = (*TokenStore)(nil)
)
