package runner

import (
	"context"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/me/classq/internal/config"
	"github.com/me/classq/internal/coord"
	"github.com/me/classq/internal/logging"
	"github.com/me/classq/internal/report"
	"github.com/me/classq/internal/server"
	"github.com/me/classq/pkg/model"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}
}

func TestCommandExecutorPass(t *testing.T) {
	requireSh(t)

	exec := NewCommandExecutor([]string{"sh", "-c", "exit 0"})
	outcome, _ := exec.RunMethod(context.Background(), "a.B", "test_x")
	if outcome != model.OutcomePass {
		t.Fatalf("outcome = %q, want pass", outcome)
	}
}

func TestCommandExecutorFailCapturesOutput(t *testing.T) {
	requireSh(t)

	exec := NewCommandExecutor([]string{"sh", "-c", "echo assertion blew up; exit 1"})
	outcome, message := exec.RunMethod(context.Background(), "a.B", "test_x")
	if outcome != model.OutcomeFail {
		t.Fatalf("outcome = %q, want fail", outcome)
	}
	if !strings.Contains(message, "assertion blew up") {
		t.Fatalf("message = %q, want captured output", message)
	}
}

func TestCommandExecutorStartErrorIsError(t *testing.T) {
	exec := NewCommandExecutor([]string{"/nonexistent/classq-test-binary"})
	outcome, message := exec.RunMethod(context.Background(), "a.B", "test_x")
	if outcome != model.OutcomeError {
		t.Fatalf("outcome = %q, want error", outcome)
	}
	if message == "" {
		t.Fatal("expected a message for a start error")
	}
}

func TestCommandExecutorSubstitutesPlaceholders(t *testing.T) {
	requireSh(t)

	exec := NewCommandExecutor([]string{"sh", "-c", `test "$0 $1" = "a.B test_x"`, "{class}", "{method}"})
	outcome, _ := exec.RunMethod(context.Background(), "a.B", "test_x")
	if outcome != model.OutcomePass {
		t.Fatalf("outcome = %q, want pass (placeholders not substituted)", outcome)
	}
}

func TestRunnerDrainsQueue(t *testing.T) {
	requireSh(t)

	logger := logging.Discard()
	sched := coord.NewScheduler(coord.Config{
		MaxFailures:   2,
		MaxTimeouts:   2,
		RunnerTimeout: 30 * time.Second,
	}, report.NewLogSink(logger), logger)
	defer sched.Stop()

	cfg := config.DefaultServerConfig()
	cfg.RequestWaitSeconds = 2
	srv := httptest.NewServer(server.New(cfg, sched, logger))
	defer srv.Close()

	sched.EnqueueDiscovered([]*model.Item{
		{ClassPath: "test.one AlphaCase", Methods: []string{"test_a", "test_b"}},
		{ClassPath: "test.two BetaCase", Methods: []string{"test_c"}},
	})

	r, err := New(Config{
		ServerURL: srv.URL,
		Name:      "drain-test",
		Command:   []string{"sh", "-c", "exit 0"},
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.Run(ctx, Config{Name: "drain-test"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("runner did not exit on its own before the test deadline")
	}

	status := sched.Status()
	if status.Completed != 2 {
		t.Fatalf("completed = %d, want 2", status.Completed)
	}
	if !status.QueueClosed {
		t.Fatal("expected queue closed after drain")
	}
}

func TestRunnerRequiresCommand(t *testing.T) {
	_, err := New(Config{ServerURL: "http://localhost:1"}, logging.Discard())
	if err == nil {
		t.Fatal("expected error for missing command template")
	}
}
