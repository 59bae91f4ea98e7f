package gojob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-larkauth/core"
	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDWarmup = "larkauth.tokens.warmup"
	JobIDSweep  = "larkauth.tokens.sweep"

	ParamTenantKeys = "tenant_keys"
)

// TokenMaintainer is the manager surface the token jobs drive.
type TokenMaintainer interface {
	WarmupTokens(ctx context.Context, tenantKeys []string) core.WarmupReport
	CleanupExpired(ctx context.Context) (int, error)
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       2 * time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		return p.MaxDelay
	}
	return delay
}

// WarmupMessage builds the queue message that pre-fetches the app token and
// the given tenant tokens.
func WarmupMessage(tenantKeys []string, idempotencyKey string) *job.ExecutionMessage {
	keys := make([]any, 0, len(tenantKeys))
	for _, key := range tenantKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return &job.ExecutionMessage{
		JobID:          JobIDWarmup,
		ScriptPath:     JobIDWarmup,
		Parameters:     map[string]any{ParamTenantKeys: keys},
		IdempotencyKey: idempotencyOrRandom(idempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// SweepMessage builds the queue message that removes expired cache entries.
func SweepMessage(idempotencyKey string) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDSweep,
		ScriptPath:     JobIDSweep,
		Parameters:     map[string]any{},
		IdempotencyKey: idempotencyOrRandom(idempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// TenantKeys reads the tenant key list from job parameters. Queue backends
// decode JSON arrays as []any, so both shapes and a comma separated string
// are accepted.
func TenantKeys(params map[string]any) ([]string, error) {
	raw, ok := params[ParamTenantKeys]
	if !ok || raw == nil {
		return nil, nil
	}
	var keys []string
	switch typed := raw.(type) {
	case []string:
		keys = append(keys, typed...)
	case []any:
		for _, value := range typed {
			key, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("gojob: tenant key must be a string, got %T", value)
			}
			keys = append(keys, key)
		}
	case string:
		keys = strings.Split(typed, ",")
	default:
		return nil, fmt.Errorf("gojob: unsupported %s parameter %T", ParamTenantKeys, raw)
	}
	out := keys[:0]
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// Scheduler enqueues token maintenance jobs.
type Scheduler struct {
	enqueuer queue.Enqueuer
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer}
}

func (s *Scheduler) ScheduleWarmup(ctx context.Context, tenantKeys []string, idempotencyKey string) error {
	return s.enqueue(ctx, WarmupMessage(tenantKeys, idempotencyKey))
}

func (s *Scheduler) ScheduleSweep(ctx context.Context, idempotencyKey string) error {
	return s.enqueue(ctx, SweepMessage(idempotencyKey))
}

func (s *Scheduler) enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return s.enqueuer.Enqueue(ctx, msg)
}

type RunnerOption func(*Runner)

func WithRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(r *Runner) {
		r.policy = policy
	}
}

func WithHook(hook worker.Hook) RunnerOption {
	return func(r *Runner) {
		if hook != nil {
			r.hook = hook
		}
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner consumes token maintenance jobs and runs them against a
// TokenMaintainer. Deliveries are acked on success and nacked through the
// retry policy on failure.
type Runner struct {
	maintainer TokenMaintainer
	dequeuer   queue.Dequeuer
	policy     RetryPolicy
	hook       worker.Hook
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRunner(maintainer TokenMaintainer, dequeuer queue.Dequeuer, opts ...RunnerOption) (*Runner, error) {
	if maintainer == nil {
		return nil, fmt.Errorf("gojob: token maintainer is required")
	}
	runner := &Runner{
		maintainer: maintainer,
		dequeuer:   dequeuer,
		policy:     DefaultRetryPolicy(),
		hook:       nopHook{},
		now:        time.Now,
		attempts:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// Handle runs a single job message.
func (r *Runner) Handle(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDWarmup:
		keys, err := TenantKeys(msg.Parameters)
		if err != nil {
			return err
		}
		report := r.maintainer.WarmupTokens(ctx, keys)
		if report.OK() {
			return nil
		}
		return warmupError(report)
	case JobIDSweep:
		_, err := r.maintainer.CleanupExpired(ctx)
		return err
	default:
		return fmt.Errorf("gojob: unsupported job %q", msg.JobID)
	}
}

// RunOnce dequeues and processes one delivery.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r == nil || r.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Process(ctx, delivery)
}

// Run processes deliveries until ctx is cancelled or the dequeuer fails.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Runner) Process(ctx context.Context, delivery queue.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := r.nextAttempt(key)
	startedAt := r.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	r.hook.OnStart(ctx, event)

	err := r.Handle(ctx, msg)
	event.Duration = r.now().Sub(startedAt)
	if err == nil {
		r.resetAttempts(key)
		r.hook.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = err
	opts := r.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   r.policy.delayFor(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		r.hook.OnRetry(ctx, event)
	} else {
		r.resetAttempts(key)
		r.hook.OnFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

func (r *Runner) nextAttempt(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[key]++
	return r.attempts[key]
}

func (r *Runner) resetAttempts(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

func warmupError(report core.WarmupReport) error {
	keys := make([]string, 0, len(report.Failed))
	for key := range report.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, report.Failed[key]))
	}
	return fmt.Errorf("gojob: warmup failed for %d key(s): %s", len(keys), strings.Join(parts, "; "))
}

func idempotencyOrRandom(key string) string {
	if trimmed := strings.TrimSpace(key); trimmed != "" {
		return trimmed
	}
	return uuid.NewString()
}

// ObserverHook reports worker events through a core.Observer.
type ObserverHook struct {
	obs core.Observer
}

func NewObserverHook(observer core.Observer) *ObserverHook {
	return &ObserverHook{obs: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.obs.Debug(ctx, "token job started", eventFields(event))
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.obs.Observe(ctx, event.StartedAt, "jobs."+jobName(event), nil, eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.obs.Observe(ctx, event.StartedAt, "jobs."+jobName(event), event.Err, eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.obs.Count(ctx, "jobs.retry", 1, map[string]string{"job_id": jobName(event)})
	h.obs.Warn(ctx, "token job will be retried", eventFields(event))
}

func jobName(event worker.Event) string {
	if event.Message == nil {
		return "unknown"
	}
	return strings.TrimPrefix(strings.TrimSpace(event.Message.JobID), "larkauth.")
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"attempt": event.Attempt,
		"job_id":  jobName(event),
	}
	if event.Message != nil && event.Message.IdempotencyKey != "" {
		fields["idempotency_key"] = event.Message.IdempotencyKey
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

type nopHook struct{}

func (nopHook) OnStart(context.Context, worker.Event)   {}
func (nopHook) OnSuccess(context.Context, worker.Event) {}
func (nopHook) OnFailure(context.Context, worker.Event) {}
func (nopHook) OnRetry(context.Context, worker.Event)   {}

var (
	_ worker.Hook = (*ObserverHook)(nil)
	_ worker.Hook = nopHook{}
)
