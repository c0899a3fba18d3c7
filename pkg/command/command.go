package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/core-tools/hsu-updater-go/pkg/errors"
)

// Runner executes an external command and captures its output.
//
// Every external invocation in this repository (version control, the
// provisioning script, the process supervisor) goes through this interface.
// Arguments are always passed as discrete parameters to the OS; they are
// never joined into a shell command line, so untrusted values cannot change
// the command being run.
type Runner interface {
	// Run executes name with args in dir (the process working directory if
	// dir is empty) and returns trimmed stdout. A non-zero exit or a failure
	// to start returns an error carrying the captured stderr.
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type execRunner struct{}

// NewExecRunner returns the standard os/exec backed Runner.
func NewExecRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if name == "" {
		return "", errors.NewValidationError("command name cannot be empty", nil)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := "command failed"
		if stderrText := strings.TrimSpace(stderr.String()); stderrText != "" {
			message = "command failed: " + stderrText
		}
		return "", errors.NewIOError(message, err).
			WithContext("command", name).
			WithContext("args", strings.Join(args, " "))
	}

	return strings.TrimSpace(stdout.String()), nil
}
