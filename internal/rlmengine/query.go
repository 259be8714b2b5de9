package rlmengine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/shesha/rlmcore/internal/rlmengine/llmclient"
	"github.com/shesha/rlmcore/internal/rlmengine/prompts"
	"github.com/shesha/rlmcore/internal/rlmengine/trace"
	"github.com/shesha/rlmcore/internal/rlmengine/verify"
	"github.com/shesha/rlmcore/internal/rlmsandbox/executor"
)

// ProgressEvent is one notification emitted from within the query loop —
// a planner turn, a sub-call request/response, an execution result, or a
// verification step — so a caller can stream progress to a UI or log.
type ProgressEvent struct {
	Kind       trace.StepKind
	Iteration  int
	Content    string
	TokenUsage llmclient.TokenUsage
}

// ProgressFunc receives ProgressEvents as the loop runs. May be nil.
type ProgressFunc func(ProgressEvent)

// QueryRequest is one call to Engine.Query.
type QueryRequest struct {
	// Documents are the source texts loaded into the sandbox as `context`.
	Documents []string
	// DocNames labels Documents 1:1 for citation/verification purposes.
	// Defaults to "doc_0", "doc_1", ... when omitted.
	DocNames []string
	Question string

	// ProjectID and QueryID identify this query for trace file naming.
	// QueryID defaults to a fresh UUID when empty. Tracing is skipped
	// entirely when TraceDir is empty.
	ProjectID string
	QueryID   string
	TraceDir  string

	OnProgress ProgressFunc
}

// QueryResult is the outcome of one Engine.Query call.
type QueryResult struct {
	Answer        string
	Status        Status
	TokenUsage    llmclient.TokenUsage
	ExecutionTime time.Duration
	Citations     *verify.CitationResult
	Semantic      *verify.Report
}

func defaultDocNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("doc_%d", i)
	}
	return names
}

// Query runs one RLM query end-to-end: prime the sandbox with documents,
// drive the planner/execute loop until a final answer, dead executor, or
// the iteration budget is exhausted, then run the configured verification
// passes over whatever answer was delivered.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, querySpan := e.tracer.Start(ctx, "rlmengine.query", oteltrace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.Int("document_count", len(req.Documents)),
	))
	defer querySpan.End()

	start := time.Now()
	docNames := req.DocNames
	if docNames == nil {
		docNames = defaultDocNames(len(req.Documents))
	}
	req.DocNames = docNames
	queryID := req.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}

	var tokenUsage llmclient.TokenUsage
	var tokenMu sync.Mutex

	systemPrompt := e.prompts.RenderSystemPrompt()

	docSizes := make([]int, len(req.Documents))
	total := 0
	for i, d := range req.Documents {
		docSizes[i] = len(d)
		total += len(d)
	}
	contextMetadata, err := e.prompts.RenderContextMetadata("list", total, fmt.Sprint(docSizes))
	if err != nil {
		return nil, fmt.Errorf("rlmengine: render context metadata: %w", err)
	}

	var tr *trace.Writer
	if req.TraceDir != "" && req.ProjectID != "" {
		path := filepath.Join(req.TraceDir, trace.FileName(req.ProjectID, queryID, start))
		tr, err = trace.New(path, req.ProjectID, queryID, req.Question)
		if err != nil {
			e.logger.Warn("rlmengine: trace create failed", "error", err)
			tr = nil
		}
	}
	finalizeTrace := func(status string, note string) {
		if tr == nil || tr.Finalized() {
			return
		}
		if err := tr.Finalize(status, time.Since(start), tokenUsage, note); err != nil {
			e.metrics.RecordTraceWriteFailure("finalize")
			e.logger.Warn("rlmengine: trace finalize failed", "error", err)
		}
	}

	firstUserMsg, err := e.prompts.RenderIterationZero(req.Question)
	if err != nil {
		return nil, fmt.Errorf("rlmengine: render iteration-zero prompt: %w", err)
	}

	messages := []llmclient.Message{
		{Role: llmclient.RoleAssistant, Content: contextMetadata},
		{Role: llmclient.RoleUser, Content: firstUserMsg},
	}

	st := &subcallState{tr: tr, tokenUsage: &tokenUsage, tokenMu: &tokenMu, onProgress: req.OnProgress}

	exe, usingPool, err := e.acquireExecutor(ctx)
	if err != nil {
		return nil, fmt.Errorf("rlmengine: acquire executor: %w", err)
	}
	if e.execPool != nil {
		e.metrics.SetPoolInUse(e.execPool.Stats().Active)
	}

	defer func() {
		finalizeTrace("interrupted", "")
		e.releaseExecutor(exe, usingPool)
		if e.execPool != nil {
			e.metrics.SetPoolInUse(e.execPool.Stats().Active)
		}
	}()

	exe.Handler = e.makeLLMCallback(0, st)
	if err := exe.Setup(ctx, req.Documents); err != nil {
		return nil, fmt.Errorf("rlmengine: setup sandbox context: %w", err)
	}

	maxIterations := e.cfg.Query.MaxIterations
	executionTimeout := e.cfg.Query.ExecutionTimeout

	for iteration := 0; iteration < maxIterations; iteration++ {
		exe.Handler = e.makeLLMCallback(iteration, st)

		plannerCtx, plannerSpan := e.tracer.Start(ctx, "rlmengine.planner_call", oteltrace.WithAttributes(
			attribute.Int("iteration", iteration),
			attribute.String("model", e.cfg.LLM.Model),
		))
		plannerStart := time.Now()
		resp, err := e.llm.Complete(plannerCtx, llmclient.Request{
			Model:    e.cfg.LLM.Model,
			System:   systemPrompt,
			Messages: messages,
		})
		e.metrics.RecordPlannerCall(statusLabel(err), time.Since(plannerStart))
		if err != nil {
			plannerSpan.RecordError(err)
			plannerSpan.SetStatus(codes.Error, err.Error())
			plannerSpan.End()
			return nil, (&PlannerError{Iteration: iteration, Cause: err})
		}
		plannerSpan.End()
		tokenMu.Lock()
		tokenUsage.Add(resp.Usage)
		tokenMu.Unlock()
		e.metrics.RecordTokens("planner", resp.Usage.InputTokens, resp.Usage.OutputTokens)

		e.writeStep(tr, trace.StepCodeGenerated, iteration, resp.Text)
		e.emitProgress(req.OnProgress, trace.StepCodeGenerated, iteration, resp.Text, snapshot(&tokenMu, &tokenUsage))

		codeBlocks := extractCodeBlocks(resp.Text)

		if kind, value := findFinalAnswer(resp.Text); kind != bareFinalNone {
			answer := value
			resolved := true
			if kind == bareFinalVar {
				lookupCtx, cancel := withTimeout(ctx, executionTimeout)
				result, execErr := exe.Execute(lookupCtx, fmt.Sprintf("print(%s)", value))
				cancel()
				if execErr != nil || result.Error != "" {
					// NameError-like: the identifier doesn't resolve in the
					// sandbox namespace. Don't treat the bare name itself as
					// the answer — fall through to ordinary code-block
					// handling below, which either continues the loop (no
					// code present) or runs the code the planner also sent.
					resolved = false
				} else {
					answer = strings.TrimSpace(result.Stdout)
				}
			}
			if resolved {
				e.writeStep(tr, trace.StepFinalAnswer, iteration, answer)
				e.emitProgress(req.OnProgress, trace.StepFinalAnswer, iteration, answer, snapshot(&tokenMu, &tokenUsage))

				result := e.finishWithAnswer(ctx, answer, StatusSuccess, req, start, &tokenUsage, &tokenMu, tr, iteration)
				finalizeTrace("success", "")
				e.metrics.RecordQuery(string(StatusSuccess), time.Since(start), iteration+1)
				querySpan.SetAttributes(attribute.String("status", string(StatusSuccess)))
				return result, nil
			}
		}

		if len(codeBlocks) == 0 {
			messages = append(messages, llmclient.Message{Role: llmclient.RoleAssistant, Content: resp.Text})
			codeRequired, err := e.prompts.RenderCodeRequired()
			if err != nil {
				return nil, fmt.Errorf("rlmengine: render code-required prompt: %w", err)
			}
			messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: codeRequired})
			continue
		}

		allOutput := make([]string, 0, len(codeBlocks))
		results := make([]executor.Result, 0, len(codeBlocks))
		var finalAnswer string
		haveFinal := false

		for _, code := range codeBlocks {
			execCtx, execSpan := e.tracer.Start(ctx, "rlmengine.execute", oteltrace.WithAttributes(
				attribute.Int("iteration", iteration),
			))
			execStart := time.Now()
			runCtx, cancel := withTimeout(execCtx, executionTimeout)
			result, err := exe.Execute(runCtx, code)
			cancel()
			execDuration := time.Since(execStart)
			if err != nil {
				// A wire-level protocol error leaves the executor dead
				// (ContainerExecutor.IsAlive now reports false); route this
				// through the same recovery/executor-died handling below
				// rather than surfacing it as a Go error, so the engine
				// still always resolves to a QueryResult.
				e.metrics.RecordExecution("error", execDuration)
				execSpan.RecordError(err)
				execSpan.SetStatus(codes.Error, err.Error())
				execSpan.End()
				break
			}
			execSpan.SetAttributes(attribute.String("outcome", executionOutcome(result)))
			execSpan.End()
			e.metrics.RecordExecution(executionOutcome(result), execDuration)

			var parts []string
			if result.Stdout != "" {
				parts = append(parts, result.Stdout)
			}
			if result.Stderr != "" {
				parts = append(parts, "STDERR: "+result.Stderr)
			}
			if result.Error != "" {
				parts = append(parts, "ERROR: "+result.Error)
			}
			output := "(no output)"
			if len(parts) > 0 {
				output = strings.Join(parts, "\n")
			}
			output = prompts.TruncateCodeOutput(output, e.cfg.Query.MaxOutputChars)

			e.writeStep(tr, trace.StepExecuteResult, iteration, output)
			e.emitProgress(req.OnProgress, trace.StepExecuteResult, iteration, output, snapshot(&tokenMu, &tokenUsage))

			allOutput = append(allOutput, output)
			results = append(results, result)

			if result.FinalAnswer != nil {
				finalAnswer = *result.FinalAnswer
				haveFinal = true
			} else if result.FinalVar != nil {
				if result.FinalValue != nil {
					finalAnswer = *result.FinalValue
				}
				haveFinal = true
			}
			if haveFinal {
				e.writeStep(tr, trace.StepFinalAnswer, iteration, finalAnswer)
				e.emitProgress(req.OnProgress, trace.StepFinalAnswer, iteration, finalAnswer, snapshot(&tokenMu, &tokenUsage))
				break
			}
		}

		if haveFinal {
			result := e.finishWithAnswer(ctx, finalAnswer, StatusSuccess, req, start, &tokenUsage, &tokenMu, tr, iteration)
			finalizeTrace("success", "")
			e.metrics.RecordQuery(string(StatusSuccess), time.Since(start), iteration+1)
			querySpan.SetAttributes(attribute.String("status", string(StatusSuccess)))
			return result, nil
		}

		if !exe.IsAlive() {
			if e.execPool != nil {
				e.execPool.Discard(exe)
				e.metrics.RecordExecutorDiscarded("died")
				exe, err = e.factory(ctx)
				if err != nil {
					return nil, fmt.Errorf("rlmengine: recreate executor after death: %w", err)
				}
				usingPool = false
				exe.Handler = e.makeLLMCallback(iteration, st)
				if err := exe.Setup(ctx, req.Documents); err != nil {
					return nil, fmt.Errorf("rlmengine: re-setup sandbox after executor death: %w", err)
				}
			} else {
				note := "[Executor died — cannot continue]"
				finalizeTrace("executor_died", note)
				e.metrics.RecordQuery(string(StatusExecutorDied), time.Since(start), iteration+1)
				querySpan.SetAttributes(attribute.String("status", string(StatusExecutorDied)))
				return &QueryResult{
					Answer:        note,
					Status:        StatusExecutorDied,
					TokenUsage:    tokenUsage,
					ExecutionTime: time.Since(start),
				}, nil
			}
		}

		messages = append(messages, llmclient.Message{Role: llmclient.RoleAssistant, Content: resp.Text})
		// Only the code blocks actually executed have output/vars recorded —
		// a dead-executor break above can leave codeBlocks longer than
		// allOutput/results.
		for i := 0; i < len(allOutput); i++ {
			var vars map[string]string
			if i < len(results) {
				vars = results[i].Vars
			}
			messages = append(messages, llmclient.Message{
				Role:    llmclient.RoleUser,
				Content: prompts.FormatCodeEcho(codeBlocks[i], allOutput[i], vars, ""),
			})
		}
		iterationContinue, err := e.prompts.RenderIterationContinue(req.Question)
		if err != nil {
			return nil, fmt.Errorf("rlmengine: render iteration-continue prompt: %w", err)
		}
		messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: iterationContinue})
	}

	fallbackMessages := append(append([]llmclient.Message{}, messages...), llmclient.Message{
		Role:    llmclient.RoleAssistant,
		Content: "Please provide a final answer to the user's question based on the information provided.",
	})
	resp, err := e.llm.Complete(ctx, llmclient.Request{Model: e.cfg.LLM.Model, System: systemPrompt, Messages: fallbackMessages})
	if err != nil {
		return nil, &PlannerError{Iteration: maxIterations - 1, Cause: err}
	}
	tokenMu.Lock()
	tokenUsage.Add(resp.Usage)
	tokenMu.Unlock()
	e.metrics.RecordTokens("planner", resp.Usage.InputTokens, resp.Usage.OutputTokens)

	e.writeStep(tr, trace.StepFinalAnswer, maxIterations-1, "[max-iter fallback] "+resp.Text)
	finalizeTrace("max_iterations", "")
	e.metrics.RecordQuery(string(StatusMaxIterations), time.Since(start), maxIterations)
	querySpan.SetAttributes(attribute.String("status", string(StatusMaxIterations)))

	return &QueryResult{
		Answer:        resp.Text,
		Status:        StatusMaxIterations,
		TokenUsage:    tokenUsage,
		ExecutionTime: time.Since(start),
	}, nil
}

// finishWithAnswer runs citation and semantic verification (each
// independently best-effort) over a delivered final answer and assembles
// the QueryResult.
func (e *Engine) finishWithAnswer(
	ctx context.Context,
	answer string,
	status Status,
	req QueryRequest,
	start time.Time,
	tokenUsage *llmclient.TokenUsage,
	tokenMu *sync.Mutex,
	tr *trace.Writer,
	iteration int,
) *QueryResult {
	result := &QueryResult{Answer: answer, Status: status, ExecutionTime: time.Since(start)}

	if e.cfg.Verification.CitationsEnabled() {
		citations := verify.VerifyCitations(answer, req.Documents)
		result.Citations = &citations
		e.metrics.RecordVerification("citations", citationOutcome(citations))
		e.writeStep(tr, trace.StepVerification, iteration, citations.Summary())
		e.emitProgress(req.OnProgress, trace.StepVerification, iteration, citations.Summary(), snapshot(tokenMu, tokenUsage))
	}

	if e.cfg.Verification.Semantic {
		report, err := e.runSemanticVerification(ctx, answer, req.Documents, req.DocNames, tr, tokenUsage, tokenMu, iteration, req.OnProgress)
		if err != nil {
			e.metrics.RecordVerification("semantic", "error")
			e.writeStep(tr, trace.StepVerificationError, iteration, "Semantic verification error: "+err.Error())
		} else if report != nil {
			result.Semantic = report
			e.metrics.RecordVerification("semantic", "pass")
		}
	}

	tokenMu.Lock()
	result.TokenUsage = *tokenUsage
	tokenMu.Unlock()
	return result
}

func (e *Engine) acquireExecutor(ctx context.Context) (*executor.ContainerExecutor, bool, error) {
	if e.execPool != nil {
		exe, err := e.execPool.Get(ctx)
		if err != nil {
			return nil, false, err
		}
		return exe, true, nil
	}
	exe, err := e.factory(ctx)
	if err != nil {
		return nil, false, err
	}
	return exe, false, nil
}

// releaseExecutor returns exe to the pool after a query, unless the
// configured execution mode is "isolated" (one-shot, no pool reuse) or the
// namespace reset failed, in which case it's discarded instead.
func (e *Engine) releaseExecutor(exe *executor.ContainerExecutor, usingPool bool) {
	if exe == nil {
		return
	}
	exe.Handler = nil
	if !usingPool {
		return
	}
	if strings.EqualFold(e.cfg.Query.ExecutionMode, "isolated") {
		e.execPool.Discard(exe)
		return
	}
	if err := exe.ResetNamespace(context.Background()); err != nil {
		e.execPool.Discard(exe)
		e.metrics.RecordExecutorDiscarded("reset_failed")
		return
	}
	e.execPool.Put(exe)
}

// withTimeout returns a derived context bounded by d, plus its CancelFunc —
// the caller must call it (directly or via defer) once the context is no
// longer needed, or the timer leaks until it fires.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func executionOutcome(r executor.Result) string {
	if r.Error != "" || r.Stderr != "" {
		return "error"
	}
	return "success"
}

func citationOutcome(r verify.CitationResult) string {
	if len(r.Quotes) == 0 {
		return "skipped"
	}
	if r.AllSupported() {
		return "pass"
	}
	return "fail"
}
