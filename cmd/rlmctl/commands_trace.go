package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shesha/rlmcore/internal/rlmengine/trace"
)

// buildTraceCmd creates the "trace" command group for inspecting and
// pruning the JSONL audit trail a query writes under trace.directory.
func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and prune query trace files",
		Long: `Inspect and prune the JSONL trace files written by "rlmctl query".

Each trace file has a header line, one step line per planner turn /
sub-call / verification pass, and a terminal summary line.

Example workflow:
  rlmctl trace validate run.jsonl   # check a trace file parses cleanly
  rlmctl trace stats run.jsonl      # print its step/token summary
  rlmctl trace prune --project default --keep 50`,
	}
	cmd.AddCommand(
		buildTraceValidateCmd(),
		buildTraceStatsCmd(),
		buildTracePruneCmd(),
	)
	return cmd
}

func buildTraceValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a trace file's structure",
		Long: `Validate a JSONL trace file's structure: a well-formed header on the
first line, zero or more well-formed step lines, and (if the query
completed or was interrupted) a well-formed summary line last.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceValidate(cmd, args[0])
		},
	}
}

func buildTraceStatsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Print a trace file's step and token summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceStats(cmd, args[0], jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output statistics as JSON")
	return cmd
}

func buildTracePruneCmd() *cobra.Command {
	var (
		dir     string
		project string
		keep    int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old trace files for a project, keeping the N most recent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("rlmctl: --project is required")
			}
			if err := trace.PruneOldTraces(dir, project, keep); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %s traces to at most %d files\n", project, keep)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "traces", "trace directory")
	cmd.Flags().StringVar(&project, "project", "", "project id to prune")
	cmd.Flags().IntVar(&keep, "keep", 50, "number of most recent trace files to keep")
	return cmd
}

// traceLine is a loosely-typed view over one JSONL record, enough to tell
// a header from a step from a summary without committing to which shape
// decodes first.
type traceLine struct {
	// header fields
	Version   int    `json:"version"`
	ProjectID string `json:"project_id"`
	QueryID   string `json:"query_id"`

	// step fields
	Seq  int            `json:"seq"`
	Kind trace.StepKind `json:"kind"`

	// summary fields
	Status string `json:"status"`
}

func readTraceLines(path string) ([]traceLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rlmctl: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []traceLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l traceLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("rlmctl: decode line %d: %w", len(lines)+1, err)
		}
		lines = append(lines, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rlmctl: scan %s: %w", path, err)
	}
	return lines, nil
}

func runTraceValidate(cmd *cobra.Command, path string) error {
	lines, err := readTraceLines(path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("rlmctl: %s is empty", path)
	}
	header := lines[0]
	if header.Version == 0 || header.QueryID == "" {
		return fmt.Errorf("rlmctl: %s: first line is not a valid header (missing version/query_id)", path)
	}

	lastSeq := 0
	steps := lines[1:]
	if len(steps) > 0 {
		steps = steps[:len(steps)-1]
	}
	for _, l := range steps {
		if l.Kind == "" {
			return fmt.Errorf("rlmctl: %s: step with seq %d has no kind", path, l.Seq)
		}
		if l.Seq <= lastSeq {
			return fmt.Errorf("rlmctl: %s: step sequence not strictly increasing at seq %d", path, l.Seq)
		}
		lastSeq = l.Seq
	}

	if len(lines) > 1 {
		tail := lines[len(lines)-1]
		if tail.Status == "" && tail.Kind == "" {
			return fmt.Errorf("rlmctl: %s: last line is neither a step nor a summary", path)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d lines)\n", path, len(lines))
	return nil
}

func runTraceStats(cmd *cobra.Command, path string, jsonOutput bool) error {
	lines, err := readTraceLines(path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("rlmctl: %s is empty", path)
	}

	stepCounts := map[trace.StepKind]int{}
	status := ""
	for _, l := range lines {
		if l.Kind != "" {
			stepCounts[l.Kind]++
		}
		if l.Status != "" {
			status = l.Status
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"project_id":  lines[0].ProjectID,
			"query_id":    lines[0].QueryID,
			"status":      status,
			"step_counts": stepCounts,
			"total_lines": len(lines),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "project:  %s\n", lines[0].ProjectID)
	fmt.Fprintf(out, "query:    %s\n", lines[0].QueryID)
	fmt.Fprintf(out, "status:   %s\n", status)
	fmt.Fprintf(out, "steps:\n")
	for kind, count := range stepCounts {
		fmt.Fprintf(out, "  %-24s %d\n", kind, count)
	}
	return nil
}
