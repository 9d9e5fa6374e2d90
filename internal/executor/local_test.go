package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
)

func TestLocalRunSuccess(t *testing.T) {
	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})

	result, err := l.Run(context.Background(), []string{"sh", "-c", "echo hello"}, time.Second)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Output != "hello\n" {
		t.Fatalf("unexpected output %q", result.Output)
	}
}

func TestLocalRunNonZeroExit(t *testing.T) {
	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})

	result, err := l.Run(context.Background(), []string{"sh", "-c", "echo out; echo boom >&2; exit 3"}, time.Second)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "boom") {
		t.Fatalf("expected combined output, got %q", result.Output)
	}
}

func TestLocalRunTimeout(t *testing.T) {
	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})

	start := time.Now()
	_, err := l.Run(context.Background(), []string{"sleep", "5"}, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("unexpected error %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})

	if _, err := l.Run(context.Background(), []string{"definitely-not-a-real-binary"}, time.Second); err == nil {
		t.Fatal("expected error")
	}
	if _, err := l.Run(context.Background(), nil, time.Second); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestLocalFetchLogsReturnsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})
	logs, err := l.FetchLogs(context.Background(), fleet.Endpoint{Host: "localhost", Service: "kafka", LogSource: path}, 3)
	if err != nil {
		t.Fatalf("FetchLogs error: %v", err)
	}
	if logs != "line 8\nline 9\nline 10\n" {
		t.Fatalf("unexpected logs %q", logs)
	}
}

func TestLocalFetchLogsMissingFile(t *testing.T) {
	l := NewLocal(zerolog.Nop(), Commands{}, Timeouts{})

	_, err := l.FetchLogs(context.Background(), fleet.Endpoint{
		Host:      "localhost",
		Service:   "kafka",
		LogSource: filepath.Join(t.TempDir(), "missing.log"),
	}, 3)
	if err == nil {
		t.Fatal("expected error")
	}
}
