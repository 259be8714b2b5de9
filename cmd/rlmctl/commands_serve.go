package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/shesha/rlmcore/internal/rlmengine/config"
	"github.com/shesha/rlmcore/internal/rlmengine/metrics"
	"github.com/shesha/rlmcore/internal/rlmengine/trace"
)

// buildServeCmd creates the "serve" command: a long-running process that
// exposes engine metrics over HTTP and periodically prunes old trace
// files, for deployments that run queries out-of-process (e.g. behind a
// gateway) but still want this binary managing metrics/retention.
func buildServeCmd() *cobra.Command {
	var (
		pruneCron    string
		pruneProject string
		pruneKeep    int
		watchConfig  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics endpoint and scheduled trace retention sweep",
		Long: `Run a long-lived process that serves the engine's Prometheus metrics
over HTTP and, on the given cron schedule, prunes old trace files down
to the configured retention count. When --config is set, the file is
watched and reloaded on change (trace directory/retention take effect
immediately; the metrics listener address does not).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pruneProject == "" {
				pruneProject = "default"
			}

			var liveCfg atomic.Pointer[config.Config]
			liveCfg.Store(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watchConfig && strings.TrimSpace(configPath) != "" {
				watcher, err := config.NewWatcher(configPath, func(reloaded *config.Config, err error) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "rlmctl: config reload failed, keeping previous config: %v\n", err)
						return
					}
					liveCfg.Store(reloaded)
					fmt.Fprintln(cmd.OutOrStdout(), "config reloaded")
				})
				if err != nil {
					return fmt.Errorf("rlmctl: watch config: %w", err)
				}
				watcher.Start(ctx)
				defer watcher.Close()
			}

			registry := prometheus.NewRegistry()
			metrics.New(registry)

			var server *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						fmt.Fprintf(cmd.ErrOrStderr(), "rlmctl: metrics server: %v\n", err)
					}
				}()
				fmt.Fprintf(cmd.OutOrStdout(), "metrics listening on :%d/metrics\n", cfg.Metrics.Port)
			}

			sched := cron.New()
			_, err = sched.AddFunc(pruneCron, func() {
				active := liveCfg.Load()
				keep := pruneKeep
				if keep <= 0 {
					keep = active.Trace.MaxTracesPerProject
				}
				if err := trace.PruneOldTraces(active.Trace.Directory, pruneProject, keep); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "rlmctl: trace prune sweep: %v\n", err)
				}
			})
			if err != nil {
				return fmt.Errorf("rlmctl: invalid --prune-cron expression %q: %w", pruneCron, err)
			}
			sched.Start()
			fmt.Fprintf(cmd.OutOrStdout(), "trace retention sweep scheduled: %s (project=%s keep=%d)\n", pruneCron, pruneProject, pruneKeep)

			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")

			stopCtx := sched.Stop()
			<-stopCtx.Done()
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pruneCron, "prune-cron", "0 */6 * * *", "cron schedule for the trace retention sweep")
	cmd.Flags().StringVar(&pruneProject, "prune-project", "", "project id to prune (defaults to \"default\")")
	cmd.Flags().IntVar(&pruneKeep, "prune-keep", 0, "trace files to retain per sweep (defaults to trace.max_traces_per_project)")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", true, "reload --config on change (ignored when --config is unset)")
	return cmd
}
