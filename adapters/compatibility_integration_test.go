package adapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	larkauth "github.com/goliatone/go-larkauth"
	"github.com/goliatone/go-larkauth/adapters/gocommand"
	"github.com/goliatone/go-larkauth/adapters/gojob"
	"github.com/goliatone/go-larkauth/adapters/gologger"
	"github.com/goliatone/go-larkauth/adapters/prommetrics"
	"github.com/goliatone/go-larkauth/adapters/zaplogger"
	larkcommand "github.com/goliatone/go-larkauth/command"
	"github.com/goliatone/go-larkauth/core"
	larkquery "github.com/goliatone/go-larkauth/query"
	"github.com/goliatone/go-larkauth/refresher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newCompatVendor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(refresher.PathAppAccessTokenInternal, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "app_access_token": "a-compat-0001", "expire": 7200})
	})
	mux.HandleFunc(refresher.PathTenantAccessTokenInternal, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":                0,
			"tenant_access_token": "t-" + body["tenant_key"] + "-compat",
			"expire":              7200,
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newCompatClient(t *testing.T, opts ...larkauth.Option) *larkauth.Client {
	t.Helper()
	vendor := newCompatVendor(t)
	cfg := larkauth.DefaultConfig()
	cfg.AppID = "cli_compat"
	cfg.AppSecret = "secret"
	cfg.BaseURL = vendor.URL
	cfg.Retry = core.NoRetryPolicy()

	opts = append([]larkauth.Option{larkauth.WithoutSweeper(), larkauth.WithHTTPClient(vendor.Client())}, opts...)
	client, err := larkauth.NewClient(cfg, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRuntimeCompatibility_ZapPrometheusAndGoJob(t *testing.T) {
	ctx := context.Background()
	logCore, logs := observer.New(zapcore.DebugLevel)
	provider := zaplogger.NewProvider(zap.New(logCore))
	registry := prometheus.NewRegistry()

	client := newCompatClient(t,
		larkauth.WithLoggerProvider(provider),
		larkauth.WithMetricsRecorder(prommetrics.New(registry)),
	)

	_, jobLogger := gologger.ForJob("jobs", provider, nil)
	jobLogger.Info("warmup scheduled", "tenants", 2)
	if logs.FilterLoggerName("larkauth.jobs").FilterMessage("warmup scheduled").Len() != 1 {
		t.Fatalf("expected go-job bridge to log through the zap provider")
	}

	delivery := &compatDelivery{msg: gojob.WarmupMessage([]string{"T1", "T2"}, "warm-compat")}
	runner, err := gojob.NewRunner(client.Manager(), &compatDequeuer{delivery: delivery},
		gojob.WithHook(gojob.NewObserverHook(core.NewObserver("larkauth.jobs", provider, nil, prommetrics.New(registry)))),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.RunOnce(ctx); err != nil {
		t.Fatalf("run warmup job: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected warmup delivery to be acked, nack=%+v", delivery.nackOpts)
	}
	if size := client.Stats(ctx).Tokens.CurrentSize; size != 3 {
		t.Fatalf("expected app and two tenant tokens cached, got %d", size)
	}

	if got := testutil.CollectAndCount(registry, "larkauth_manager_get_access_token_total"); got == 0 {
		t.Fatalf("expected manager metrics in the prometheus registry")
	}
	if got := testutil.CollectAndCount(registry, "larkauth_jobs_tokens_warmup_total"); got != 1 {
		t.Fatalf("expected one job outcome series, got %d", got)
	}
	if logs.FilterLoggerName("larkauth.manager").FilterMessage("token warmup finished").Len() != 1 {
		t.Fatalf("expected warmup summary from the named manager logger")
	}
}

func TestRuntimeCompatibility_CommandDispatchThroughManager(t *testing.T) {
	ctx := context.Background()
	client := newCompatClient(t)
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	subs, err := gocommand.RegisterTokenHandlers(adapter, client.Manager())
	if err != nil {
		t.Fatalf("register token handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	info, err := gocommand.Query[larkquery.GetAccessTokenMessage, core.TokenInfo](ctx, larkquery.GetAccessTokenMessage{
		Request: larkauth.TenantTokenRequest("T1"),
	})
	if err != nil {
		t.Fatalf("query tenant token: %v", err)
	}
	if info.AccessToken != "t-T1-compat" {
		t.Fatalf("unexpected tenant token %#v", info)
	}

	if err := gocommand.Dispatch(ctx, larkcommand.RevokeTokenMessage{AccessToken: info.AccessToken}); err != nil {
		t.Fatalf("dispatch revoke: %v", err)
	}
	result, err := gocommand.Query[larkquery.ValidateAccessTokenMessage, core.ValidationResult](ctx, larkquery.ValidateAccessTokenMessage{
		AccessToken: info.AccessToken,
	})
	if err != nil {
		t.Fatalf("query validate: %v", err)
	}
	if result.Valid || result.Reason != core.ValidationReasonNotFound {
		t.Fatalf("expected revoked token to be unknown, got %#v", result)
	}

	err = gocommand.Dispatch(ctx, larkcommand.RevokeTokenMessage{})
	if err == nil {
		t.Fatalf("expected validation error for empty revoke")
	}
}

type compatDequeuer struct {
	delivery queue.Delivery
}

func (d *compatDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return d.delivery, nil
}

type compatDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *compatDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nackOpts = opts
	return nil
}
