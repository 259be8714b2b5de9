package rlmengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shesha/rlmcore/internal/rlmengine/llmclient"
	"github.com/shesha/rlmcore/internal/rlmengine/prompts"
	"github.com/shesha/rlmcore/internal/rlmengine/trace"
	"github.com/shesha/rlmcore/internal/rlmengine/verify"
)

// runSemanticVerification runs the two-layer semantic verification pass
// (Layer 1 adversarial, Layer 2 code-specific when the source documents
// are mostly source code) against a delivered final answer. Returns nil,
// nil when there's nothing cited to verify — that is not an error, just
// an answer with no quoted claims worth checking.
func (e *Engine) runSemanticVerification(
	ctx context.Context,
	finalAnswer string,
	documents, docNames []string,
	tr *trace.Writer,
	tokenUsage *llmclient.TokenUsage,
	tokenMu *sync.Mutex,
	iteration int,
	onProgress ProgressFunc,
) (*verify.Report, error) {
	citedDocsText := verify.GatherCitedDocuments(finalAnswer, documents, docNames)
	if citedDocsText == "" {
		return nil, nil
	}

	limit := e.cfg.Query.MaxSubcallContentChars
	if len(citedDocsText) > limit {
		msg := fmt.Sprintf(
			"Skipping verification: cited documents (%d chars) exceed limit of %d chars",
			len(citedDocsText), limit,
		)
		e.writeStep(tr, trace.StepSemanticVerification, iteration, msg)
		return nil, nil
	}

	wrappedDocs := prompts.WrapSubcallContent(citedDocsText)

	prompt1, err := e.prompts.RenderVerifyAdversarialPrompt(finalAnswer, wrappedDocs)
	if err != nil {
		return nil, fmt.Errorf("rlmengine: render adversarial verification prompt: %w", err)
	}

	e.writeStep(tr, trace.StepSemanticVerification, iteration, "Starting adversarial verification (Layer 1)")
	e.emitProgress(onProgress, trace.StepSemanticVerification, iteration, "Adversarial verification", snapshot(tokenMu, tokenUsage))

	start := time.Now()
	resp1, err := e.llm.Complete(ctx, llmclient.Request{
		Model:    e.cfg.LLM.Model,
		Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt1}},
	})
	if err != nil {
		e.metrics.RecordSubcall("error", time.Since(start))
		return nil, fmt.Errorf("rlmengine: adversarial verification call failed: %w", err)
	}
	e.metrics.RecordSubcall("success", time.Since(start))
	e.metrics.RecordTokens("subcall", resp1.Usage.InputTokens, resp1.Usage.OutputTokens)
	addTokens(tokenMu, tokenUsage, resp1.Usage)

	findings, err := verify.ParseVerificationResponse(resp1.Text)
	if err != nil {
		return nil, fmt.Errorf("rlmengine: parse layer-1 verification response: %w", err)
	}

	e.writeStep(tr, trace.StepSemanticVerification, iteration, fmt.Sprintf("Layer 1 complete: %d findings reviewed", len(findings)))
	e.emitProgress(onProgress, trace.StepSemanticVerification, iteration, fmt.Sprintf("Layer 1 complete: %d findings", len(findings)), snapshot(tokenMu, tokenUsage))

	contentType := verify.DetectContentType(docNames)
	if contentType == "code" {
		layer1JSON, err := json.MarshalIndent(struct {
			Findings []verify.Finding `json:"findings"`
		}{Findings: findings}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("rlmengine: marshal layer-1 findings: %w", err)
		}

		prompt2, err := e.prompts.RenderVerifyCodePrompt(string(layer1JSON), finalAnswer, wrappedDocs)
		if err != nil {
			return nil, fmt.Errorf("rlmengine: render code verification prompt: %w", err)
		}

		e.writeStep(tr, trace.StepSemanticVerification, iteration, "Starting code-specific verification (Layer 2)")
		e.emitProgress(onProgress, trace.StepSemanticVerification, iteration, "Code-specific verification", snapshot(tokenMu, tokenUsage))

		start2 := time.Now()
		resp2, err := e.llm.Complete(ctx, llmclient.Request{
			Model:    e.cfg.LLM.Model,
			Messages: []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt2}},
		})
		if err != nil {
			e.metrics.RecordSubcall("error", time.Since(start2))
			return nil, fmt.Errorf("rlmengine: code verification call failed: %w", err)
		}
		e.metrics.RecordSubcall("success", time.Since(start2))
		e.metrics.RecordTokens("subcall", resp2.Usage.InputTokens, resp2.Usage.OutputTokens)
		addTokens(tokenMu, tokenUsage, resp2.Usage)

		findings, err = verify.ParseVerificationResponse(resp2.Text)
		if err != nil {
			return nil, fmt.Errorf("rlmengine: parse layer-2 verification response: %w", err)
		}
		e.writeStep(tr, trace.StepSemanticVerification, iteration, fmt.Sprintf("Layer 2 complete: %d findings reviewed", len(findings)))
		e.emitProgress(onProgress, trace.StepSemanticVerification, iteration, fmt.Sprintf("Layer 2 complete: %d findings", len(findings)), snapshot(tokenMu, tokenUsage))
	}

	return &verify.Report{Findings: findings, ContentType: contentType}, nil
}

func snapshot(mu *sync.Mutex, usage *llmclient.TokenUsage) llmclient.TokenUsage {
	mu.Lock()
	defer mu.Unlock()
	return *usage
}

func addTokens(mu *sync.Mutex, usage *llmclient.TokenUsage, add llmclient.TokenUsage) {
	mu.Lock()
	usage.Add(add)
	mu.Unlock()
}
