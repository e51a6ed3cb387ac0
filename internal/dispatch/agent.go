package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/speckit/internal/config"
)

// AgentResponse is one agent's answer for a stage.
type AgentResponse struct {
	Agent    string
	Text     string
	CostUSD  float64
	Duration time.Duration
	Denials  []PermissionDenial
	Err      error
}

// AgentRunner executes one agent. Tests substitute a fake.
type AgentRunner interface {
	RunAgent(ctx context.Context, agent config.Agent, prompt string, env *Environment) (*AgentResponse, error)
}

// ExecRunner invokes agents as `<command> -p <prompt>`. Claude agents are
// run with stream-json output; other commands are read as plain text.
type ExecRunner struct {
	OnTool ToolFunc
}

func (r ExecRunner) RunAgent(ctx context.Context, agent config.Agent, prompt string, env *Environment) (*AgentResponse, error) {
	if agent.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(agent.Timeout)*time.Minute)
		defer cancel()
	}

	streaming := filepath.Base(agent.Command) == "claude"
	args := []string{"-p", prompt}
	if agent.Model != "" {
		args = append(args, "--model", agent.Model)
	}
	if streaming {
		args = append(args, "--output-format", "stream-json", "--verbose")
	}

	cmd := exec.CommandContext(ctx, agent.Command, args...)
	cmd.Dir = env.WorkDir
	cmd.Env = BuildEnv(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	if err := os.MkdirAll(env.LogDir, 0755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(env.LogPath(agent.Name))
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	start := time.Now()
	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(logFile, &stderr)

	resp := &AgentResponse{Agent: agent.Name}
	var out bytes.Buffer
	var stdout io.Reader
	if streaming {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, err
		}
	} else {
		cmd.Stdout = io.MultiWriter(logFile, &out)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", agent.Name, err)
	}
	if streaming {
		stream, err := processStream(ctx, stdout, logFile, r.OnTool)
		if err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
		}
		resp.Text = stream.Text
		resp.CostUSD = stream.CostUSD
		resp.Denials = stream.PermissionDenials
	}

	code, err := exitCode(cmd.Wait())
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("agent %s exited %d: %s", agent.Name, code, lastLine(stderr.String()))
	}
	if !streaming {
		resp.Text = out.String()
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// RunBatch runs every agent concurrently with the same prompt and returns
// one response per agent in input order. A failing agent does not cancel
// the others; its error is carried on its response.
func RunBatch(ctx context.Context, runner AgentRunner, agents []config.Agent, prompt string, env *Environment) []AgentResponse {
	out := make([]AgentResponse, len(agents))
	var g errgroup.Group
	g.SetLimit(max(len(agents), 1))
	for i, a := range agents {
		g.Go(func() error {
			resp, err := runner.RunAgent(ctx, a, prompt, env)
			if err != nil {
				out[i] = AgentResponse{Agent: a.Name, Err: err}
				return nil
			}
			out[i] = *resp
			return nil
		})
	}
	g.Wait()
	return out
}
