package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shesha/rlmcore/internal/rlmengine"
	"github.com/shesha/rlmcore/internal/rlmengine/config"
	"github.com/shesha/rlmcore/internal/rlmsandbox/executor"
	"github.com/shesha/rlmcore/internal/rlmsandbox/pool"
)

// buildQueryCmd creates the "query" command: run one RLM query against a
// set of documents and print the delivered answer plus verification
// summaries.
func buildQueryCmd() *cobra.Command {
	var (
		questionFlag string
		projectID    string
		watch        bool
		guestPath    string
	)

	cmd := &cobra.Command{
		Use:   "query <document>...",
		Short: "Run one recursive-LM query against a set of documents",
		Long: `Run one recursive-LM query: load the given documents into a sandboxed
interpreter, drive the planner/execute loop until a final answer is
reached, and print the result.

Reads from stdin when no document paths are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			question := strings.TrimSpace(questionFlag)
			if question == "" {
				return fmt.Errorf("rlmctl: --question is required")
			}

			documents, docNames, err := loadDocuments(args)
			if err != nil {
				return err
			}

			tracerProvider, shutdownTracing := setupTracing()
			defer shutdownTracing()

			factory := newSubprocessFactory(guestPath, executor.ModeFast)
			opts := []rlmengine.Option{rlmengine.WithTracerProvider(tracerProvider)}
			var p *pool.Pool
			if strings.EqualFold(cfg.Query.ExecutionMode, "fast") {
				p, err = pool.New(cmd.Context(), factory, 1, cfg.Pool.Size)
				if err != nil {
					return fmt.Errorf("rlmctl: warm sandbox pool: %w", err)
				}
				defer p.Close()
				opts = append(opts, rlmengine.WithPool(p))
			}

			engine, err := rlmengine.New(cfg, factory, opts...)
			if err != nil {
				return fmt.Errorf("rlmctl: build engine: %w", err)
			}

			req := rlmengine.QueryRequest{
				Documents: documents,
				DocNames:  docNames,
				Question:  question,
				ProjectID: projectID,
				TraceDir:  cfg.Trace.Directory,
			}
			if watch {
				req.OnProgress = func(ev rlmengine.ProgressEvent) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] iter=%d %s\n", ev.Kind, ev.Iteration, truncate(ev.Content, 200))
				}
			}

			result, err := engine.Query(context.Background(), req)
			if err != nil {
				return fmt.Errorf("rlmctl: query failed: %w", err)
			}

			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&questionFlag, "question", "q", "", "question to ask the planner")
	cmd.Flags().StringVar(&projectID, "project", "default", "project id, used to namespace trace files")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream progress events to stderr as the query runs")
	cmd.Flags().StringVar(&guestPath, "guest-path", "rlm-guest", "path to the rlm-guest sandbox binary")
	return cmd
}

func loadDocuments(paths []string) (documents, docNames []string, err error) {
	if len(paths) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, nil, fmt.Errorf("rlmctl: read stdin: %w", err)
		}
		return []string{string(data)}, []string{"stdin"}, nil
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("rlmctl: read %s: %w", p, err)
		}
		documents = append(documents, string(data))
		docNames = append(docNames, filepath.Base(p))
	}
	return documents, docNames, nil
}

func printResult(w io.Writer, result *rlmengine.QueryResult) {
	fmt.Fprintln(w, result.Answer)
	fmt.Fprintf(w, "\n--- status=%s iterations_time=%s tokens=%d ---\n",
		result.Status, result.ExecutionTime.Round(1e6), result.TokenUsage.Total())
	if result.Citations != nil {
		fmt.Fprintf(w, "citations: %s\n", result.Citations.Summary())
	}
	if result.Semantic != nil {
		fmt.Fprintf(w, "semantic verification: %d findings reviewed (%s content)\n",
			len(result.Semantic.Findings), result.Semantic.ContentType)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
