package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/artifact"
	"github.com/scttfrdmn/pipekit/budget"
	"github.com/scttfrdmn/pipekit/checkpointing"
	"github.com/scttfrdmn/pipekit/middleware"
	"github.com/scttfrdmn/pipekit/observability"
	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/pipelines"
)

// runtime holds what a command builds from the config and must release.
type runtime struct {
	deps     pipelines.Deps
	recorder *checkpointing.Recorder
	// metered counts every call that reaches the provider.
	metered *middleware.MeteredLLM
	spend   *budget.LimitedLLM
	closers []func(context.Context) error
}

type runtimeOptions struct {
	// metrics installs the Prometheus meter provider even when the config
	// leaves metrics off.
	metrics bool
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.close(context.Background())
		}
	}()

	model, err := newModel(ctx)
	if err != nil {
		return nil, err
	}
	rt.metered = middleware.Meter(model)
	rt.closers = append(rt.closers, rt.logUsage)
	model, err = rt.withCallPolicy(rt.metered)
	if err != nil {
		return nil, err
	}

	store, err := artifact.New(cfg.ArtifactSettings())
	if err != nil {
		return nil, err
	}
	if c, isCloser := store.(io.Closer); isCloser {
		rt.closers = append(rt.closers, func(context.Context) error { return c.Close() })
	}

	hooks := []pipeline.Hooks{observability.NewLoggingHooks(logger)}

	obs := cfg.Observability
	if obs.OTLPEndpoint != "" || obs.ConsoleTraces {
		tp, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:  obs.ServiceName,
			OTLPEndpoint: obs.OTLPEndpoint,
			Console:      obs.ConsoleTraces,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, tp.Shutdown)
		hooks = append(hooks, observability.NewTracingHooks(tp))
	}
	if obs.Metrics || opts.metrics {
		mp, err := observability.InitMetrics(ctx, obs.ServiceName)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, mp.Shutdown)
		mh, err := observability.NewMetricsHooks(mp)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, mh)
	}

	if cfg.Checkpoints.Enabled {
		var storage checkpointing.Storage = checkpointing.NewInMemoryStorage()
		if cfg.Checkpoints.Dir != "" {
			fs, err := checkpointing.NewFileStorage(cfg.Checkpoints.Dir)
			if err != nil {
				return nil, err
			}
			storage = fs
		}
		rt.recorder = checkpointing.NewRecorder(storage, logger)
		hooks = append(hooks, rt.recorder)
	}

	rt.deps = pipelines.Deps{
		Model:          model,
		Options:        cfg.CallOptions(),
		Artifacts:      store,
		DatabasePath:   cfg.Database.Path,
		Retry:          cfg.RetrySettings(),
		StepTimeout:    cfg.Timeouts.Step,
		StageTimeout:   cfg.Timeouts.Stage,
		MaxConcurrency: cfg.Parallel.MaxConcurrency,
		Hooks:          hooks,
		Logger:         logger,
	}
	ok = true
	return rt, nil
}

// newModel creates the configured provider model. The mock provider answers
// with the demo responses.
func newModel(ctx context.Context) (llm.LLM, error) {
	if strings.EqualFold(cfg.LLM.Provider, llm.ProviderMock) {
		return pipelines.DemoModel(), nil
	}
	m, err := llm.New(ctx, cfg.LLMSettings())
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.LLM.Provider, err)
	}
	return m, nil
}

// withCallPolicy wraps model, outermost first, with the response cache, the
// spending cap, the rate limiter and the circuit breaker. Cache hits cost
// nothing and skip the limiter. An open circuit does not consume rate limit
// tokens.
func (rt *runtime) withCallPolicy(model llm.LLM) (llm.LLM, error) {
	if b := cfg.BreakerSettings(); b != nil {
		model = middleware.CircuitBreaker(model, *b)
	}
	if cfg.LLM.RateLimit > 0 {
		model = middleware.RateLimit(model, cfg.LLM.RateLimit, cfg.LLM.Burst)
	}
	spend, err := budget.Limit(model, budget.Config{Limit: cfg.LLM.BudgetUSD, Logger: logger})
	if err != nil {
		return nil, err
	}
	rt.spend = spend
	model = spend

	if cfg.LLM.Cache.Enabled {
		cached, err := middleware.Cache(model, middleware.CachingConfig{
			MaxCacheSize: cfg.LLM.Cache.Size,
			DefaultTTL:   cfg.LLM.Cache.TTL,
		})
		if err != nil {
			return nil, err
		}
		model = cached
	}
	return model, nil
}

func (rt *runtime) logUsage(context.Context) error {
	m := rt.metered.Snapshot()
	if m.TotalCalls == 0 {
		return nil
	}
	logger.Info("model usage",
		"model", rt.metered.Model(),
		"calls", m.TotalCalls,
		"errors", m.ErrorCalls,
		"avg_latency", m.AverageLatency().Round(time.Millisecond),
		"prompt_tokens", m.PromptTokens,
		"completion_tokens", m.CompletionTokens,
		"cost_usd", rt.spend.Spent())
	return nil
}

func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
