package rlmengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shesha/rlmcore/internal/rlmengine/llmclient"
	"github.com/shesha/rlmcore/internal/rlmengine/prompts"
	"github.com/shesha/rlmcore/internal/rlmengine/trace"
	"github.com/shesha/rlmcore/internal/rlmsandbox/executor"
)

// subcallState bundles the per-query mutable state a sub-LLM callback
// needs to touch: the trace writer, the running token total, and the
// caller's progress sink. tokenMu guards tokenUsage (trace.Writer already
// serializes its own writes internally; only the shared counter needs a
// lock here).
type subcallState struct {
	tr         *trace.Writer
	tokenUsage *llmclient.TokenUsage
	tokenMu    *sync.Mutex
	onProgress ProgressFunc
}

func (e *Engine) writeStep(tr *trace.Writer, kind trace.StepKind, iteration int, data any) {
	if tr == nil {
		return
	}
	if err := tr.WriteStep(kind, iteration, data); err != nil {
		e.metrics.RecordTraceWriteFailure("step")
		e.logger.Warn("rlmengine: trace step write failed", "error", err, "kind", kind)
	}
}

func (e *Engine) emitProgress(onProgress ProgressFunc, kind trace.StepKind, iteration int, content string, usage llmclient.TokenUsage) {
	if onProgress == nil {
		return
	}
	onProgress(ProgressEvent{Kind: kind, Iteration: iteration, Content: content, TokenUsage: usage})
}

// makeLLMCallback returns an executor.LLMQueryHandler bound to one planner
// iteration, the way the reference engine's _make_llm_callback factory
// freezes the iteration number into each closure so a callback invoked
// from sandboxed code always records against the iteration that issued it.
func (e *Engine) makeLLMCallback(iteration int, st *subcallState) executor.LLMQueryHandler {
	return func(ctx context.Context, instruction, content string) (string, error) {
		return e.handleLLMQuery(ctx, instruction, content, iteration, st)
	}
}

func (e *Engine) handleLLMQuery(ctx context.Context, instruction, content string, iteration int, st *subcallState) (string, error) {
	stepContent := fmt.Sprintf("instruction: %s\ncontent: [%d chars]", instruction, len(content))

	st.tokenMu.Lock()
	e.writeStep(st.tr, trace.StepSubcallRequest, iteration, stepContent)
	e.emitProgress(st.onProgress, trace.StepSubcallRequest, iteration, stepContent, *st.tokenUsage)
	st.tokenMu.Unlock()

	payloadSize := len(instruction) + len(content)
	limit := e.cfg.Query.MaxSubcallContentChars
	if payloadSize > limit {
		errMsg := fmt.Sprintf(
			"Payload size (%d chars) exceeds the sub-LLM limit of %d chars. Please chunk the content into smaller pieces and make multiple llm_query calls.",
			payloadSize, limit,
		)
		st.tokenMu.Lock()
		e.writeStep(st.tr, trace.StepSubcallResponse, iteration, errMsg)
		e.emitProgress(st.onProgress, trace.StepSubcallResponse, iteration, errMsg, *st.tokenUsage)
		st.tokenMu.Unlock()
		e.metrics.RecordSubcall("content_error", 0)
		return "", executor.NewContentError(errMsg)
	}

	var prompt string
	if content != "" {
		var err error
		prompt, err = e.prompts.RenderSubcallPrompt(instruction, prompts.WrapSubcallContent(content))
		if err != nil {
			return "", fmt.Errorf("rlmengine: render subcall prompt: %w", err)
		}
	} else {
		prompt = instruction
	}

	start := time.Now()
	resp, err := e.llm.Complete(ctx, llmclient.Request{
		Model:    e.cfg.LLM.Model,
		Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}},
	})
	duration := time.Since(start)
	if err != nil {
		e.metrics.RecordSubcall("error", duration)
		return "", fmt.Errorf("rlmengine: subcall failed: %w", err)
	}
	e.metrics.RecordSubcall("success", duration)
	e.metrics.RecordTokens("subcall", resp.Usage.InputTokens, resp.Usage.OutputTokens)

	st.tokenMu.Lock()
	st.tokenUsage.Add(resp.Usage)
	e.writeStep(st.tr, trace.StepSubcallResponse, iteration, resp.Text)
	e.emitProgress(st.onProgress, trace.StepSubcallResponse, iteration, resp.Text, *st.tokenUsage)
	st.tokenMu.Unlock()

	return resp.Text, nil
}
