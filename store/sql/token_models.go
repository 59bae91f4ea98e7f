package sqlstore

import (
	"time"

	"github.com/goliatone/go-larkauth/core"
	"github.com/uptrace/bun"
)

type tokenEntryRecord struct {
	bun.BaseModel `bun:"table:larkauth_token_entries,alias:lte"`

	ID              string    `bun:"id,pk"`
	CacheKey        string    `bun:"cache_key,notnull"`
	Sequence        int64     `bun:"sequence,notnull"`
	TokenValue      string    `bun:"token_value,notnull"`
	Kind            string    `bun:"kind,notnull"`
	TenantKey       string    `bun:"tenant_key,notnull"`
	RefreshToken    string    `bun:"refresh_token,notnull"`
	IssuedAt        time.Time `bun:"issued_at,notnull"`
	TTLMillis       int64     `bun:"ttl_ms,notnull"`
	RecordExpiresAt time.Time `bun:"record_expires_at,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	CacheExpiresAt  time.Time `bun:"cache_expires_at,notnull"`
}

func newTokenEntryRecord(key string, entry core.CacheEntry, sequence int64) *tokenEntryRecord {
	record := entry.Record
	return &tokenEntryRecord{
		CacheKey:        key,
		Sequence:        sequence,
		TokenValue:      record.Value,
		Kind:            string(record.Kind),
		TenantKey:       record.TenantKey,
		RefreshToken:    record.RefreshToken,
		IssuedAt:        record.IssuedAt.UTC(),
		TTLMillis:       record.TTL.Milliseconds(),
		RecordExpiresAt: record.ExpiresAt.UTC(),
		CreatedAt:       entry.CreatedAt.UTC(),
		CacheExpiresAt:  entry.ExpiresAt.UTC(),
	}
}

func (r *tokenEntryRecord) toDomain() core.CacheEntry {
	if r == nil {
		return core.CacheEntry{}
	}
	return core.CacheEntry{
		Record: core.TokenRecord{
			Value:        r.TokenValue,
			Kind:         core.TokenKind(r.Kind),
			IssuedAt:     r.IssuedAt.UTC(),
			TTL:          time.Duration(r.TTLMillis) * time.Millisecond,
			ExpiresAt:    r.RecordExpiresAt.UTC(),
			RefreshToken: r.RefreshToken,
			TenantKey:    r.TenantKey,
		},
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.CacheExpiresAt.UTC(),
	}
}
