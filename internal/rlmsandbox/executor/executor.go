// Package executor implements the host side of the sandbox protocol: it
// drives one guest connection, handles llm_query/llm_query_batch callbacks
// by dispatching them to a caller-supplied handler, and classifies every
// failure into the protocol-vs-content-vs-execute taxonomy the engine's
// loop depends on for deciding whether the executor can keep serving
// requests.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shesha/rlmcore/internal/rlmsandbox/protocol"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

// ExecutionMode selects how a batched llm_query_batch is dispatched to the
// handler: Fast runs prompts concurrently (bounded worker pool), Deep runs
// them one at a time.
type ExecutionMode string

const (
	ModeFast ExecutionMode = "fast"
	ModeDeep ExecutionMode = "deep"
)

// MaxBatchWorkers bounds Fast-mode concurrency for one llm_query_batch call.
const MaxBatchWorkers = 32

// DefaultExecuteTimeout is used when Execute is called without a context
// deadline.
const DefaultExecuteTimeout = 30

// ProtocolError marks a framing-level failure (oversized message, malformed
// JSON, deadline exceeded, connection closed mid-stream). The executor that
// produced it must not be reused; ContainerExecutor.IsAlive reports false
// after one occurs.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }
func (e *ProtocolError) Unwrap() error { return wire.ErrProtocol }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// ContentError marks a sub-LLM call rejected for policy reasons (content
// too large); recoverable, the executor stays alive.
type ContentError struct {
	msg string
}

func (e *ContentError) Error() string { return e.msg }

// NewContentError builds a ContentError with msg, for handlers outside this
// package (the engine's sub-LLM payload-size check) that need to signal a
// recoverable per-call rejection back through Handler's return value.
func NewContentError(msg string) *ContentError { return &ContentError{msg: msg} }

// LLMQueryHandler answers one llm_query request. It may return a
// *ContentError to signal a recoverable per-call rejection.
type LLMQueryHandler func(ctx context.Context, instruction, content string) (string, error)

// Result mirrors one terminal execute reply from the guest.
type Result struct {
	Status     string
	Stdout     string
	Stderr     string
	Error      string
	FinalAnswer *string
	FinalVar    *string
	FinalValue  *string
	Vars        map[string]string
}

// ContainerExecutor drives one guest connection through setup/execute/
// reset/ping, brokering llm_query/llm_query_batch callbacks to Handler.
type ContainerExecutor struct {
	demux   *wire.Demuxer
	conn    wire.Conn
	Handler LLMQueryHandler
	Mode    ExecutionMode

	mu    sync.Mutex
	alive bool
}

// New wraps an already-connected transport. tags selects the transport's
// multiplex header recognition set (wire.NoMultiplexTags for non-multiplexed
// transports such as a pipe or a plain TCP/unix socket).
func New(conn wire.Conn, tags map[byte]bool, handler LLMQueryHandler, mode ExecutionMode) *ContainerExecutor {
	if mode == "" {
		mode = ModeFast
	}
	return &ContainerExecutor{
		demux:   wire.NewDemuxer(conn, tags),
		conn:    conn,
		Handler: handler,
		Mode:    mode,
		alive:   true,
	}
}

// IsAlive reports whether the executor's connection is still usable. A
// protocol violation permanently clears this; the engine must discard the
// executor (and, with a pool, acquire a fresh one) rather than keep using it.
func (e *ContainerExecutor) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

func (e *ContainerExecutor) markDead() {
	e.mu.Lock()
	e.alive = false
	e.mu.Unlock()
}

// Setup sends the initial document context to the guest.
func (e *ContainerExecutor) Setup(ctx context.Context, docs []string) error {
	return e.sendAndExpectOK(ctx, protocol.SetupCommand(docs))
}

// ResetNamespace clears guest user variables, keeping builtins.
func (e *ContainerExecutor) ResetNamespace(ctx context.Context) error {
	return e.sendAndExpectOK(ctx, protocol.ResetCommand())
}

// Ping round-trips a health check.
func (e *ContainerExecutor) Ping(ctx context.Context) error {
	return e.sendAndExpectOK(ctx, protocol.PingCommand())
}

func (e *ContainerExecutor) sendAndExpectOK(ctx context.Context, cmd protocol.Envelope) error {
	if !e.IsAlive() {
		return protocolErrorf("executor stopped: no connection")
	}
	if err := e.send(cmd); err != nil {
		return e.fail(err)
	}
	env, err := e.recv(ctx)
	if err != nil {
		return e.fail(err)
	}
	if env.Status == protocol.StatusError {
		msg := "unknown error"
		if env.Error != nil {
			msg = *env.Error
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// Execute runs one code block, servicing any llm_query/llm_query_batch
// callbacks that arrive before the terminal execute reply.
func (e *ContainerExecutor) Execute(ctx context.Context, code string) (Result, error) {
	if !e.IsAlive() {
		return Result{Status: protocol.StatusError, Error: "Executor stopped: no socket connection"}, nil
	}

	if err := e.send(protocol.ExecuteCommand(code)); err != nil {
		return Result{}, e.fail(err)
	}

	for {
		env, err := e.recv(ctx)
		if err != nil {
			return Result{}, e.fail(err)
		}

		switch env.Action {
		case protocol.ActionLLMQuery:
			e.replyToLLMQuery(ctx, env)
			continue
		case protocol.ActionLLMQueryBatch:
			e.replyToLLMQueryBatch(ctx, env)
			continue
		}

		return Result{
			Status:      stringOr(env.Status, protocol.StatusError),
			Stdout:      env.Stdout,
			Stderr:      env.Stderr,
			Error:       derefOr(env.Error, ""),
			FinalAnswer: env.FinalAns,
			FinalVar:    env.FinalVar,
			FinalValue:  env.FinalValue,
			Vars:        env.Vars,
		}, nil
	}
}

func (e *ContainerExecutor) replyToLLMQuery(ctx context.Context, req protocol.Envelope) {
	if e.Handler == nil {
		e.send(protocol.LLMResponseError("No LLM query handler configured"))
		return
	}
	result, err := e.Handler(ctx, req.Instruction, req.Content)
	if err != nil {
		var ce *ContentError
		if errors.As(err, &ce) {
			e.send(protocol.LLMResponseError(ce.Error()))
			return
		}
		e.send(protocol.LLMResponseError(err.Error()))
		return
	}
	e.send(protocol.LLMResponseOK(result))
}

func (e *ContainerExecutor) replyToLLMQueryBatch(ctx context.Context, req protocol.Envelope) {
	if e.Handler == nil {
		e.send(protocol.LLMBatchResponseError("No LLM query handler configured"))
		return
	}
	results := e.dispatchBatch(ctx, req.Prompts)
	e.send(protocol.LLMBatchResponseOK(results))
}

// dispatchBatch calls Handler once per prompt, concurrently (Fast, bounded
// to MaxBatchWorkers) or sequentially (Deep). A per-prompt *ContentError is
// folded into an inline "[error: ...]" string in that slot rather than
// failing the whole batch, matching the reference behavior where only a
// missing handler is a batch-level failure.
func (e *ContainerExecutor) dispatchBatch(ctx context.Context, prompts []string) []string {
	if len(prompts) == 0 {
		return nil
	}
	callOne := func(p string) string {
		result, err := e.Handler(ctx, p, "")
		if err != nil {
			var ce *ContentError
			if errors.As(err, &ce) {
				return fmt.Sprintf("[error: %s]", ce.Error())
			}
			return fmt.Sprintf("[error: %s]", err.Error())
		}
		return result
	}

	results := make([]string, len(prompts))
	if e.Mode == ModeDeep {
		for i, p := range prompts {
			results[i] = callOne(p)
		}
		return results
	}

	workers := len(prompts)
	if workers > MaxBatchWorkers {
		workers = MaxBatchWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, p := range prompts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = callOne(p)
		}(i, p)
	}
	wg.Wait()
	return results
}

func (e *ContainerExecutor) send(env protocol.Envelope) error {
	payload, err := protocol.Marshal(env)
	if err != nil {
		return protocolErrorf("marshal outgoing message: %v", err)
	}
	if err := wire.SendMessage(e.conn, payload, wire.DefaultSendTimeout); err != nil {
		return err
	}
	return nil
}

func (e *ContainerExecutor) recv(ctx context.Context) (protocol.Envelope, error) {
	timeout := DefaultExecuteTimeout * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			timeout = remaining
		}
	}
	msg, err := e.demux.ReadMessage(timeout)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env, err := protocol.Unmarshal(msg)
	if err != nil {
		return protocol.Envelope{}, protocolErrorf("invalid JSON from guest: %v", err)
	}
	return env, nil
}

// fail classifies err: a wire-level protocol violation kills the executor,
// matching the reference implementation's "terminate on ProtocolError"
// rule, since the guest's state is no longer trustworthy after one.
func (e *ContainerExecutor) fail(err error) error {
	if errors.Is(err, wire.ErrProtocol) {
		e.markDead()
		return protocolErrorf("protocol error: %v", err)
	}
	return err
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
