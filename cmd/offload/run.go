package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/events"
	"github.com/phrazzld/offload/internal/task"
)

type runOptions struct {
	workers         int
	queueSize       int
	tasks           int
	failEvery       int
	workTime        time.Duration
	metricsAddr     string
	shutdownTimeout time.Duration
}

// runSummary counts lifecycle events. Apart from submitted, it is only touched
// by observers, which all run on the goroutine draining the dispatcher.
type runSummary struct {
	submitted *atomic.Int64
	started   int
	finished  int
	failed    int
	restored  int
	failures  []string
}

func (s *runSummary) write(w io.Writer) {
	fmt.Fprintf(w, "submitted=%d started=%d finished=%d failed=%d restored=%d\n",
		s.submitted.Load(), s.started, s.finished, s.failed, s.restored)
	for _, f := range s.failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of envelopes and print a summary of their events",
		Long: `run submits --tasks envelopes to a worker pool. Every --fail-every'th envelope
divides by zero so the failure path can be observed. Lifecycle events are
delivered on the command's main goroutine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if opts.tasks < 0 {
				return fmt.Errorf("--tasks must not be negative, got %d", opts.tasks)
			}

			log, err := setupLogger(cmd, cfg.Log)
			if err != nil {
				return err
			}

			summary, err := runBatch(cmd.Context(), cfg, opts, log)
			if summary != nil {
				summary.write(cmd.OutOrStdout())
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.workers, "workers", 0, "number of pool workers (overrides pool.workers)")
	flags.IntVar(&opts.queueSize, "queue-size", 0, "task queue capacity (overrides pool.queue_size)")
	flags.IntVar(&opts.tasks, "tasks", 10, "number of envelopes to submit")
	flags.IntVar(&opts.failEvery, "fail-every", 0, "make every Nth envelope fail; 0 disables failures")
	flags.DurationVar(&opts.workTime, "work-time", 0, "how long each envelope's work takes")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for queued work when stopping")

	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Pool.Workers = o.workers
	}
	if flags.Changed("queue-size") {
		cfg.Pool.QueueSize = o.queueSize
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = o.metricsAddr != ""
		cfg.Metrics.Addr = o.metricsAddr
	}
}

// runBatch submits the envelopes, drains their events on the calling goroutine
// and returns once every envelope has been restored or the runner was stopped.
func runBatch(ctx context.Context, cfg *config.Config, opts *runOptions, log *slog.Logger) (*runSummary, error) {
	reg := prometheus.NewRegistry()
	metrics, err := newMetrics(reg, cfg.Metrics.Namespace)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		srv, err := startMetricsServer(cfg.Metrics.Addr, reg, log)
		if err != nil {
			return nil, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	dispatcher := events.NewChannelDispatcher(cfg.Pool.QueueSize+cfg.Pool.Workers, log)

	runner := task.NewRunner(task.RunnerConfig{
		WorkerCount: cfg.Pool.Workers,
		QueueSize:   cfg.Pool.QueueSize,
	}, log)
	runner.SetMetrics(metrics)
	runner.SetErrorHandler(func(rn task.Runnable, err error) {
		log.Error("runnable was not processed", "task_id", rn.ID(), "error", err)
	})
	runner.Start()

	summary := &runSummary{submitted: atomic.NewInt64(0)}
	envelopes := make([]*task.Envelope, 0, opts.tasks)
	for i := 0; i < opts.tasks; i++ {
		env := newBatchEnvelope(i, opts, dispatcher, log)
		if err := summary.observe(env); err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}

	produced := make(chan error, 1)
	go func() {
		var submitErr error
		for _, env := range envelopes {
			if err := runner.SubmitWait(ctx, env); err != nil {
				submitErr = err
				break
			}
			summary.submitted.Inc()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		if err := runner.Shutdown(shutdownCtx); err != nil && submitErr == nil {
			submitErr = fmt.Errorf("runner shutdown: %w", err)
		}

		// Every emission has been queued once the pool has stopped.
		dispatcher.Close()
		produced <- submitErr
	}()

	if err := dispatcher.Drain(context.Background()); err != nil {
		return summary, err
	}

	err = <-produced
	stats := runner.Stats()
	log.Info("batch complete",
		"submitted", summary.submitted.Load(),
		"processed", stats.Processed,
		"finished", summary.finished,
		"failed", summary.failed)

	if errors.Is(err, context.Canceled) {
		return summary, fmt.Errorf("interrupted: %w", err)
	}
	return summary, err
}

func (s *runSummary) observe(env *task.Envelope) error {
	name := env.Name()
	if _, err := env.OnStarted(func() { s.started++ }); err != nil {
		return err
	}
	if _, err := env.OnFinished(func(any) { s.finished++ }); err != nil {
		return err
	}
	if _, err := env.OnFailed(func(message string) {
		s.failed++
		s.failures = append(s.failures, fmt.Sprintf("%s: %s", name, message))
	}); err != nil {
		return err
	}
	_, err := env.OnRestored(func() { s.restored++ })
	return err
}

// newBatchEnvelope builds the i'th envelope of a batch. Its work squares i and
// divides by a divisor that is zero for every failEvery'th envelope.
func newBatchEnvelope(i int, opts *runOptions, d events.Dispatcher, log *slog.Logger) *task.Envelope {
	divisor := 1
	if opts.failEvery > 0 && (i+1)%opts.failEvery == 0 {
		divisor = 0
	}

	work := task.Func(func(ctx context.Context, n, divisor int, kw map[string]any) (int, error) {
		if wait, ok := kw["work_time"].(time.Duration); ok && wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return n * n / divisor, nil
	})

	return task.NewEnvelope(work,
		[]any{i, divisor},
		map[string]any{"work_time": opts.workTime},
		task.WithName(fmt.Sprintf("job-%d", i)),
		task.WithLogger(log),
		task.WithDispatcher(d),
	)
}
