package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/me/classq/pkg/model"
)

// Runner is the main work loop: it polls the coordinator for classes,
// executes their methods one at a time, and reports each outcome.
type Runner struct {
	client    *Client
	exec      Executor
	heartbeat time.Duration
	classWait time.Duration
	logger    *slog.Logger
}

// Config holds runner configuration.
type Config struct {
	ServerURL string
	Name      string
	Hostname  string

	// Command is the template executed once per test method. Occurrences
	// of {class} and {method} in any argument are substituted.
	Command []string

	// ClassTimeout bounds one class's execution on the runner side. When
	// it expires the runner checks the class back in as timed out. Zero
	// means no local deadline.
	ClassTimeout time.Duration

	// Heartbeat is the liveness interval. Defaults to 10s.
	Heartbeat time.Duration

	// PollTimeout is the HTTP client timeout for work requests; must
	// exceed the server's long-poll hold. Defaults to 60s.
	PollTimeout time.Duration
}

// New creates a Runner from configuration.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("command template is required")
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}

	return &Runner{
		client:    NewClient(cfg.ServerURL, cfg.PollTimeout),
		exec:      NewCommandExecutor(cfg.Command),
		heartbeat: cfg.Heartbeat,
		classWait: cfg.ClassTimeout,
		logger:    logger.With("component", "runner"),
	}, nil
}

// Run registers with the coordinator and works until the queue closes or
// the context is cancelled.
func (r *Runner) Run(ctx context.Context, cfg Config) error {
	runner, err := r.client.Register(ctx, cfg.Name, cfg.Hostname)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	r.logger.Info("registered with coordinator",
		"runner_id", runner.ID,
		"name", runner.Name,
	)

	go r.heartbeatLoop(ctx)

	return r.workLoop(ctx)
}

// heartbeatLoop sends heartbeats until the context is cancelled.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx); err != nil {
				r.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// workLoop fetches and executes classes until the queue closes.
func (r *Runner) workLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		item, closed, err := r.client.FetchWork(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("fetch work failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if closed {
			r.logger.Info("queue closed, exiting")
			return nil
		}
		if item == nil {
			// Empty poll; the queue is still open, ask again.
			continue
		}

		r.runClass(ctx, item)
	}
}

// runClass executes every method of one class and checks it back in.
func (r *Runner) runClass(ctx context.Context, item *model.Item) {
	r.logger.Info("running class",
		"class_path", item.ClassPath,
		"methods", len(item.Methods),
	)

	classCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.classWait > 0 {
		classCtx, cancel = context.WithTimeout(ctx, r.classWait)
	}
	defer cancel()

	for _, method := range item.Methods {
		if classCtx.Err() != nil {
			break
		}

		start := time.Now()
		outcome, message := r.exec.RunMethod(classCtx, item.ClassPath, method)
		res := model.MethodResult{
			ClassPath:  item.ClassPath,
			Method:     method,
			Outcome:    outcome,
			Message:    message,
			DurationMs: time.Since(start).Milliseconds(),
			ReportedAt: time.Now().UTC(),
		}

		if err := r.client.ReportResult(ctx, res); err != nil {
			r.logger.Error("report result failed",
				"class_path", item.ClassPath,
				"method", method,
				"error", err,
			)
		}
	}

	// Local deadline expired but the process is still alive: the class
	// goes back charged against its timeout budget.
	timedOut := classCtx.Err() != nil && ctx.Err() == nil

	// Check-in uses a fresh deadline so a timed-out class still reaches
	// the coordinator.
	ciCtx, ciCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ciCancel()
	if err := r.client.CheckIn(ciCtx, item.ClassPath, timedOut); err != nil {
		r.logger.Error("check in failed", "class_path", item.ClassPath, "error", err)
	}
}
