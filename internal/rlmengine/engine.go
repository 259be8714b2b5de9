// Package rlmengine runs the recursive-language-model query loop: a
// planner LLM emits ```repl code against a sandboxed interpreter, that
// code may itself call back into an LLM (llm_query/llm_query_batch), and
// the loop continues until the planner emits a final answer, the sandbox
// dies, or the iteration budget runs out. See Engine.Query.
package rlmengine

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/shesha/rlmcore/internal/rlmengine/config"
	"github.com/shesha/rlmcore/internal/rlmengine/llmclient"
	"github.com/shesha/rlmcore/internal/rlmengine/metrics"
	"github.com/shesha/rlmcore/internal/rlmengine/prompts"
	"github.com/shesha/rlmcore/internal/rlmsandbox/pool"
)

// Engine runs RLM queries against a configured planner/sub-call LLM and a
// source of sandbox executors. One Engine may serve many concurrent
// Query calls; each call gets its own trace, token counter, and executor
// (or pool checkout).
type Engine struct {
	cfg      *config.Config
	llm      llmclient.Client
	prompts  *prompts.Loader
	factory  pool.Factory
	execPool *pool.Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   oteltrace.Tracer
}

// Option customizes an Engine built by New.
type Option func(*Engine)

// WithLLMClient overrides the planner/sub-call client New would otherwise
// build from cfg.LLM — mainly for tests, which supply a stub.
func WithLLMClient(c llmclient.Client) Option {
	return func(e *Engine) { e.llm = c }
}

// WithPool supplies a pre-warmed executor pool. When set, Query acquires
// and releases executors through it instead of calling factory once per
// query.
func WithPool(p *pool.Pool) Option {
	return func(e *Engine) { e.execPool = p }
}

// WithMetrics overrides the metrics registered by New (default: a fresh
// private registry via metrics.New(nil)).
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the logger used for operational events (executor
// discard/death, trace write failures). Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider wires distributed-tracing spans around the whole
// query, each planner call, and each sandbox execution; verification
// passes get no span of their own.
// Defaults to the global otel provider, which is a no-op until the host
// process configures one — the engine never requires tracing to be
// configured, only emits spans through whatever provider it's given.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("rlmengine") }
}

// New builds an Engine. factory creates one fresh sandbox executor and is
// required even when WithPool is supplied: Query calls it directly when no
// pool is configured — mirroring the reference engine's "create a
// standalone executor when no pool is configured" path — and, with a pool,
// uses it to replace an executor that died mid-query. When the pool cannot
// supply an executor, Query returns the pool's error instead of calling
// factory.
func New(cfg *config.Config, factory pool.Factory, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rlmengine: cfg is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("rlmengine: factory is required")
	}

	loader, err := prompts.New(cfg.Prompts.Dir)
	if err != nil {
		return nil, fmt.Errorf("rlmengine: load prompts: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		prompts: loader,
		factory: factory,
		logger:  slog.Default(),
		tracer:  otel.Tracer("rlmengine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.llm == nil {
		client, err := llmclient.New(llmclient.Config{
			Provider:       cfg.LLM.Provider,
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			RequestTimeout: cfg.LLM.RequestTimeout,
			MaxRetries:     cfg.LLM.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("rlmengine: build llm client: %w", err)
		}
		e.llm = client
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}

	if e.execPool != nil {
		e.metrics.SetPoolSize(e.execPool.Stats().MaxSize)
	}

	return e, nil
}
