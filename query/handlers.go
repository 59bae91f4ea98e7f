package query

import (
	"context"

	"github.com/goliatone/go-larkauth/core"
)

// TokenReader is the manager surface the queries read through.
type TokenReader interface {
	GetAccessToken(ctx context.Context, req core.TokenRequest) (core.TokenInfo, error)
	BatchGetAccessTokens(ctx context.Context, reqs []core.TokenRequest) []core.TokenResult
	ValidateAccessToken(ctx context.Context, token string) (core.ValidationResult, error)
	GetTokenStats(ctx context.Context) core.CacheStats
}

type GetAccessTokenQuery struct {
	reader TokenReader
}

func NewGetAccessTokenQuery(reader TokenReader) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{reader: reader}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (core.TokenInfo, error) {
	if q == nil || q.reader == nil {
		return core.TokenInfo{}, queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.TokenInfo{}, err
	}
	info, err := q.reader.GetAccessToken(ctx, msg.Request)
	if err != nil {
		return core.TokenInfo{}, core.MapError(err)
	}
	return info, nil
}

type BatchGetAccessTokensQuery struct {
	reader TokenReader
}

func NewBatchGetAccessTokensQuery(reader TokenReader) *BatchGetAccessTokensQuery {
	return &BatchGetAccessTokensQuery{reader: reader}
}

// Query returns one result per request. Item errors stay on the items.
func (q *BatchGetAccessTokensQuery) Query(
	ctx context.Context,
	msg BatchGetAccessTokensMessage,
) ([]core.TokenResult, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	results := q.reader.BatchGetAccessTokens(ctx, msg.Requests)
	for i := range results {
		if results[i].Err != nil {
			results[i].Err = core.MapError(results[i].Err)
		}
	}
	return results, nil
}

type ValidateAccessTokenQuery struct {
	reader TokenReader
}

func NewValidateAccessTokenQuery(reader TokenReader) *ValidateAccessTokenQuery {
	return &ValidateAccessTokenQuery{reader: reader}
}

func (q *ValidateAccessTokenQuery) Query(
	ctx context.Context,
	msg ValidateAccessTokenMessage,
) (core.ValidationResult, error) {
	if q == nil || q.reader == nil {
		return core.ValidationResult{}, queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.ValidationResult{}, err
	}
	result, err := q.reader.ValidateAccessToken(ctx, msg.AccessToken)
	if err != nil {
		return core.ValidationResult{}, core.MapError(err)
	}
	return result, nil
}

type TokenStatsQuery struct {
	reader TokenReader
}

func NewTokenStatsQuery(reader TokenReader) *TokenStatsQuery {
	return &TokenStatsQuery{reader: reader}
}

func (q *TokenStatsQuery) Query(ctx context.Context, _ TokenStatsMessage) (core.CacheStats, error) {
	if q == nil || q.reader == nil {
		return core.CacheStats{}, queryDependencyError("query: token reader is required")
	}
	return q.reader.GetTokenStats(ctx), nil
}
