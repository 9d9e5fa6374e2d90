package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
)

// Local runs commands as child processes on this machine.
type Local struct {
	logger   zerolog.Logger
	commands Commands
	timeouts Timeouts
}

// NewLocal returns an executor for services running on the monitoring host.
func NewLocal(logger zerolog.Logger, commands Commands, timeouts Timeouts) *Local {
	return &Local{
		logger:   logger,
		commands: commands,
		timeouts: timeouts.withDefaults(),
	}
}

// Restart implements Executor.
func (l *Local) Restart(ctx context.Context, endpoint fleet.Endpoint) (Result, error) {
	result, err := l.Run(ctx, l.commands.Restart(endpoint), l.timeouts.Restart)
	if err != nil {
		return result, &ExecutionError{Op: "restart", Endpoint: endpoint.Key(), Err: err}
	}
	return result, nil
}

// FetchLogs implements Executor.
func (l *Local) FetchLogs(ctx context.Context, endpoint fleet.Endpoint, maxLines int) (string, error) {
	result, err := l.Run(ctx, l.commands.Tail(endpoint, maxLines), l.timeouts.Logs)
	if err != nil {
		return "", &ExecutionError{Op: "fetch logs", Endpoint: endpoint.Key(), Err: err}
	}
	if !result.Success {
		return "", &ExecutionError{
			Op:       "fetch logs",
			Endpoint: endpoint.Key(),
			Err:      fmt.Errorf("exit status %d: %s", result.ExitCode, strings.TrimSpace(result.Output)),
		}
	}
	return result.Output, nil
}

// Run executes argv with a timeout. A non-zero exit is reported through Result,
// not as an error; errors mean the command could not be run or timed out.
func (l *Local) Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("no command specified")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Duration: time.Since(start),
		Output:   truncateOutput(stdout.String()),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, fmt.Errorf("command timed out after %s", timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if stderr.Len() > 0 {
			result.Output = truncateOutput(stdout.String() + stderr.String())
		}
	default:
		result.ExitCode = -1
		return result, err
	}

	l.logger.Debug().
		Strs("command", argv).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("local command finished")

	return result, nil
}
