package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RevokeTokenMessage]    = (*RevokeTokenCommand)(nil)
	_ gocmd.Commander[WarmupTokensMessage]   = (*WarmupTokensCommand)(nil)
	_ gocmd.Commander[ClearTokensMessage]    = (*ClearTokensCommand)(nil)
	_ gocmd.Commander[CleanupExpiredMessage] = (*CleanupExpiredCommand)(nil)
	_ gocmd.Commander[SetAppTicketMessage]   = (*SetAppTicketCommand)(nil)
)
