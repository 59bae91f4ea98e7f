package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	larkcommand "github.com/goliatone/go-larkauth/command"
	larkquery "github.com/goliatone/go-larkauth/query"
)

// QueueResolverKey names the resolver that mirrors token commands into a
// go-job command registry.
const QueueResolverKey = "larkauth.queue"

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

// MirrorToQueue makes every token command registered afterwards available
// to go-job workers, so warmups and sweeps can be enqueued as well as
// dispatched.
func (a *RegistryAdapter) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func registerCommand[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func registerQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// TokenService is the manager surface exposed through the dispatcher.
type TokenService interface {
	larkcommand.TokenMutator
	larkquery.TokenReader
}

type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterTokenHandlers registers and subscribes every token command and
// query. On failure the subscriptions made so far are released.
func RegisterTokenHandlers(
	adapter *RegistryAdapter,
	service TokenService,
	runnerOpts ...runner.Option,
) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: token service is required")
	}
	registrations := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, larkcommand.NewRevokeTokenCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, larkcommand.NewWarmupTokensCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, larkcommand.NewClearTokensCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, larkcommand.NewCleanupExpiredCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, larkcommand.NewSetAppTicketCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery(adapter, larkquery.NewGetAccessTokenQuery(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery(adapter, larkquery.NewBatchGetAccessTokensQuery(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery(adapter, larkquery.NewValidateAccessTokenQuery(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery(adapter, larkquery.NewTokenStatsQuery(service), runnerOpts...)
		},
	}
	subs := make(Subscriptions, 0, len(registrations))
	for _, register := range registrations {
		sub, err := register()
		if err != nil {
			subs.Unsubscribe()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
