//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/nholik/broker-sentinel/internal/executor"
	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/logging"
)

// TestIntegrationDockerRemediation restarts a real container through the
// Docker executor and probes it back up with the TCP checker.
//
// Prerequisites:
//   - Docker daemon reachable at TEST_DOCKER_HOST (tcp proxy)
//   - docker run -d --name sentinel-it -p 9092:9092 <any image listening on 9092>
//
// Run with: go test -tags=integration -v ./test/integration/...
func TestIntegrationDockerRemediation(t *testing.T) {
	dockerHost := getEnv("TEST_DOCKER_HOST", "tcp://localhost:2375")
	containerName := getEnv("TEST_CONTAINER", "sentinel-it")
	probeHost := getEnv("TEST_PROBE_HOST", "127.0.0.1")
	probePort, err := strconv.Atoi(getEnv("TEST_PROBE_PORT", "9092"))
	if err != nil {
		t.Fatalf("invalid TEST_PROBE_PORT: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingURL := "http://" + trimScheme(dockerHost) + "/_ping"
	if err := checkEndpoint(ctx, pingURL); err != nil {
		t.Skipf("docker daemon not reachable (start the proxy first): %v", err)
	}

	logger := logging.New()
	endpoint := fleet.Endpoint{
		Host:          probeHost,
		Port:          probePort,
		Service:       "kafka",
		RemediationID: containerName,
		Executor:      fleet.ExecutorDocker,
	}
	checker := health.NewTCPChecker(logger, 2*time.Second)

	if !checker.Check(context.Background(), endpoint) {
		t.Skipf("container %s is not listening on %s", containerName, endpoint.Address())
	}

	docker, err := executor.NewDocker(logger, dockerHost, executor.Timeouts{Restart: 60 * time.Second, Logs: 10 * time.Second})
	if err != nil {
		t.Fatalf("create docker executor: %v", err)
	}
	defer docker.Close()

	t.Run("Restart", func(t *testing.T) {
		result, err := docker.Restart(context.Background(), endpoint)
		if err != nil {
			t.Fatalf("restart: %v", err)
		}
		if !result.Success {
			t.Fatalf("expected successful restart, got %+v", result)
		}

		deadline := time.Now().Add(30 * time.Second)
		for !checker.Check(context.Background(), endpoint) {
			if time.Now().After(deadline) {
				t.Fatalf("endpoint %s did not come back after restart", endpoint.Address())
			}
			time.Sleep(time.Second)
		}
	})

	t.Run("FetchLogs", func(t *testing.T) {
		logs, err := docker.FetchLogs(context.Background(), endpoint, 20)
		if err != nil {
			t.Fatalf("fetch logs: %v", err)
		}
		t.Logf("fetched %d bytes of logs from %s", len(logs), containerName)
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func trimScheme(host string) string {
	for _, prefix := range []string{"tcp://", "http://"} {
		if len(host) > len(prefix) && host[:len(prefix)] == prefix {
			return host[len(prefix):]
		}
	}
	return host
}

func checkEndpoint(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
