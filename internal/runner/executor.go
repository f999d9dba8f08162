package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/me/classq/pkg/model"
)

// Executor runs a single test method and classifies the result.
type Executor interface {
	// RunMethod executes one method of a class. Exit status 0 is a pass,
	// nonzero is a fail, and anything that prevents the command from
	// running at all is an error.
	RunMethod(ctx context.Context, classPath, method string) (model.Outcome, string)
}

// CommandExecutor runs methods through an external command template.
type CommandExecutor struct {
	template []string
}

// NewCommandExecutor creates an executor from a command template. {class}
// and {method} placeholders in the arguments are substituted per method.
func NewCommandExecutor(template []string) *CommandExecutor {
	return &CommandExecutor{template: template}
}

func (e *CommandExecutor) RunMethod(ctx context.Context, classPath, method string) (model.Outcome, string) {
	args := make([]string, len(e.template))
	for i, arg := range e.template {
		arg = strings.ReplaceAll(arg, "{class}", classPath)
		arg = strings.ReplaceAll(arg, "{method}", method)
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return model.OutcomePass, ""
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return model.OutcomeFail, tail(output.String(), 4096)
	}
	return model.OutcomeError, err.Error()
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
