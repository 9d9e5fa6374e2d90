package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/nholik/broker-sentinel/internal/fleet"
)

const (
	defaultRestartTimeout = 60 * time.Second
	defaultLogTimeout     = 30 * time.Second
	outputLimit           = 256 << 10
)

// Executor runs remediation commands and reads recent log lines for an endpoint.
// Implementations apply their own timeouts and never block indefinitely.
type Executor interface {
	Restart(ctx context.Context, endpoint fleet.Endpoint) (Result, error)
	FetchLogs(ctx context.Context, endpoint fleet.Endpoint, maxLines int) (string, error)
}

// Result is the outcome of a remote command.
type Result struct {
	Success  bool
	ExitCode int
	Output   string
	Duration time.Duration
}

// Timeouts bounds each executor operation.
type Timeouts struct {
	Restart time.Duration
	Logs    time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Restart <= 0 {
		t.Restart = defaultRestartTimeout
	}
	if t.Logs <= 0 {
		t.Logs = defaultLogTimeout
	}
	return t
}

// ExecutionError reports a command that could not be run or did not succeed.
type ExecutionError struct {
	Op       string
	Endpoint fleet.Key
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Commands builds the shell commands used by the local and ssh executors.
type Commands struct {
	UseSudo bool
}

// Restart returns the argv restarting the endpoint's systemd unit.
func (c Commands) Restart(endpoint fleet.Endpoint) []string {
	return c.wrap([]string{"systemctl", "restart", endpoint.RemediationID})
}

// JournalLogSource selects the systemd journal of the remediation unit instead of a log file.
const JournalLogSource = "journal"

// Tail returns the argv printing the last lines of the endpoint's log file, or
// of its unit journal when the log source is empty or JournalLogSource.
func (c Commands) Tail(endpoint fleet.Endpoint, lines int) []string {
	n := strconv.Itoa(lines)
	if endpoint.LogSource == "" || endpoint.LogSource == JournalLogSource {
		return c.wrap([]string{"journalctl", "-u", endpoint.RemediationID, "-n", n, "--no-pager", "--output=short-iso"})
	}
	return []string{"tail", "-n", n, endpoint.LogSource}
}

func (c Commands) wrap(argv []string) []string {
	if !c.UseSudo {
		return argv
	}
	return append([]string{"sudo", "-n"}, argv...)
}

// truncateOutput keeps the last outputLimit bytes, starting on a rune boundary.
func truncateOutput(s string) string {
	if len(s) <= outputLimit {
		return s
	}
	cut := len(s) - outputLimit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
