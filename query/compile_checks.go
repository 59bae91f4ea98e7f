package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-larkauth/core"
)

var (
	_ gocmd.Querier[GetAccessTokenMessage, core.TokenInfo]             = (*GetAccessTokenQuery)(nil)
	_ gocmd.Querier[BatchGetAccessTokensMessage, []core.TokenResult]   = (*BatchGetAccessTokensQuery)(nil)
	_ gocmd.Querier[ValidateAccessTokenMessage, core.ValidationResult] = (*ValidateAccessTokenQuery)(nil)
	_ gocmd.Querier[TokenStatsMessage, core.CacheStats]                = (*TokenStatsQuery)(nil)
)
