package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// GuardrailScript returns the script implementing a guardrail command.
func GuardrailScript(dir, command string) string {
	return filepath.Join(dir, command+".sh")
}

// RunGuardrail executes <dir>/<command>.sh <spec> via bash. The script is
// expected to write telemetry under the evidence tree; the exit code is
// informational and the telemetry is what gets evaluated.
func RunGuardrail(ctx context.Context, dir, command string, timeout time.Duration, env *Environment) (*Result, error) {
	script := GuardrailScript(dir, command)
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("guardrail %s: %w", command, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", script, env.SpecID)
	cmd.Dir = env.WorkDir
	cmd.Env = BuildEnv(env)

	if err := os.MkdirAll(env.LogDir, 0755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(env.LogPath("guardrail"))
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	var captured bytes.Buffer
	cmd.Stdout = io.MultiWriter(logFile, &captured)
	cmd.Stderr = io.MultiWriter(logFile, &captured)

	code, err := exitCode(cmd.Run())
	if err != nil {
		return nil, fmt.Errorf("guardrail %s: %w", command, err)
	}
	return &Result{ExitCode: code, Output: captured.String()}, nil
}

// exitCode maps a Run error to an exit code; only non-exit failures are
// returned as errors.
func exitCode(err error) (int, error) {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
