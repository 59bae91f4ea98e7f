package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func tokenEntryHandlers() repository.ModelHandlers[*tokenEntryRecord] {
	return repository.ModelHandlers[*tokenEntryRecord]{
		NewRecord: func() *tokenEntryRecord {
			return &tokenEntryRecord{}
		},
		GetID: func(record *tokenEntryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *tokenEntryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "cache_key"
		},
		GetIdentifierValue: func(record *tokenEntryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.CacheKey)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
