package executor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alessio/shellescape"
	"github.com/nholik/broker-sentinel/internal/fleet"
)

func TestCommandsRestart(t *testing.T) {
	endpoint := fleet.Endpoint{RemediationID: "kafka"}

	if got := (Commands{}).Restart(endpoint); !reflect.DeepEqual(got, []string{"systemctl", "restart", "kafka"}) {
		t.Fatalf("unexpected argv %v", got)
	}
	want := []string{"sudo", "-n", "systemctl", "restart", "kafka"}
	if got := (Commands{UseSudo: true}).Restart(endpoint); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv %v", got)
	}
}

func TestCommandsTail(t *testing.T) {
	file := fleet.Endpoint{RemediationID: "kafka", LogSource: "/var/log/kafka/server.log"}
	if got := (Commands{UseSudo: true}).Tail(file, 100); !reflect.DeepEqual(got, []string{"tail", "-n", "100", "/var/log/kafka/server.log"}) {
		t.Fatalf("unexpected argv %v", got)
	}

	journal := fleet.Endpoint{RemediationID: "zookeeper", LogSource: JournalLogSource}
	want := []string{"journalctl", "-u", "zookeeper", "-n", "20", "--no-pager", "--output=short-iso"}
	if got := (Commands{}).Tail(journal, 20); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv %v", got)
	}

	unset := fleet.Endpoint{RemediationID: "zookeeper"}
	if got := (Commands{}).Tail(unset, 20); got[0] != "journalctl" {
		t.Fatalf("empty log source should use the journal, got %v", got)
	}
}

func TestRemoteCommandQuoting(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want string
	}{
		{
			name: "plain restart",
			argv: Commands{UseSudo: true}.Restart(fleet.Endpoint{RemediationID: "kafka"}),
			want: "sudo -n systemctl restart kafka",
		},
		{
			name: "log path with spaces",
			argv: Commands{}.Tail(fleet.Endpoint{LogSource: "/logs/my app.log"}, 5),
			want: "tail -n 5 '/logs/my app.log'",
		},
		{
			name: "journal flags stay bare",
			argv: Commands{}.Tail(fleet.Endpoint{RemediationID: "zookeeper"}, 20),
			want: "journalctl -u zookeeper -n 20 --no-pager --output=short-iso",
		},
		{
			name: "substitution is neutralized",
			argv: Commands{}.Restart(fleet.Endpoint{RemediationID: "$(rm -rf /)"}),
			want: "systemctl restart '$(rm -rf /)'",
		},
		{
			name: "embedded single quote",
			argv: Commands{}.Restart(fleet.Endpoint{RemediationID: "it's"}),
			want: `systemctl restart 'it'"'"'s'`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shellescape.QuoteCommand(tc.argv); got != tc.want {
				t.Fatalf("QuoteCommand = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncateOutputKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("x", outputLimit-1) + "é" + "tail"
	got := truncateOutput("head" + s)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated output is not valid UTF-8")
	}
	if !strings.HasSuffix(got, "tail") || len(got) > outputLimit {
		t.Fatalf("unexpected truncation: len=%d", len(got))
	}
}

type recordingExecutor struct {
	restarts []fleet.Key
}

func (r *recordingExecutor) Restart(_ context.Context, endpoint fleet.Endpoint) (Result, error) {
	r.restarts = append(r.restarts, endpoint.Key())
	return Result{Success: true}, nil
}

func (r *recordingExecutor) FetchLogs(context.Context, fleet.Endpoint, int) (string, error) {
	return "logs", nil
}

func TestSetDispatchesByKind(t *testing.T) {
	local := &recordingExecutor{}
	remote := &recordingExecutor{}
	set := NewSet(map[fleet.ExecutorKind]Executor{
		fleet.ExecutorLocal:  local,
		fleet.ExecutorSSH:    remote,
		fleet.ExecutorDocker: nil,
	})

	a := fleet.Endpoint{Host: "a", Service: "kafka", Executor: fleet.ExecutorLocal}
	b := fleet.Endpoint{Host: "b", Service: "kafka", Executor: fleet.ExecutorSSH}
	if _, err := set.Restart(context.Background(), a); err != nil {
		t.Fatalf("Restart error: %v", err)
	}
	if _, err := set.Restart(context.Background(), b); err != nil {
		t.Fatalf("Restart error: %v", err)
	}
	if len(local.restarts) != 1 || local.restarts[0] != a.Key() {
		t.Fatalf("unexpected local restarts %v", local.restarts)
	}
	if len(remote.restarts) != 1 || remote.restarts[0] != b.Key() {
		t.Fatalf("unexpected remote restarts %v", remote.restarts)
	}
}

func TestSetUnknownKind(t *testing.T) {
	set := NewSet(nil)
	endpoint := fleet.Endpoint{Host: "a", Service: "kafka", Executor: fleet.ExecutorDocker}

	_, err := set.FetchLogs(context.Background(), endpoint, 10)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Endpoint != endpoint.Key() {
		t.Fatalf("unexpected endpoint %v", execErr.Endpoint)
	}
}
