package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
)

// dockerAPI is the subset of the Docker SDK used by Docker. *client.Client
// satisfies it; tests inject a fake.
type dockerAPI interface {
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

var _ dockerAPI = (*client.Client)(nil)

// Docker restarts containers and reads their logs through the Docker Engine API.
// An endpoint's remediation id is the container name or id.
type Docker struct {
	api      dockerAPI
	logger   zerolog.Logger
	timeouts Timeouts
}

// NewDocker connects to the Docker daemon at host. An empty host uses the
// environment defaults (DOCKER_HOST or the local socket).
func NewDocker(logger zerolog.Logger, host string, timeouts Timeouts) (*Docker, error) {
	timeouts = timeouts.withDefaults()

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(&http.Client{}),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &Docker{api: api, logger: logger, timeouts: timeouts}, nil
}

// Restart implements Executor.
func (d *Docker) Restart(ctx context.Context, endpoint fleet.Endpoint) (Result, error) {
	if d == nil || d.api == nil {
		return Result{}, errors.New("docker executor is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Restart)
	defer cancel()

	start := time.Now()
	err := d.api.ContainerRestart(ctx, endpoint.RemediationID, container.StopOptions{})
	result := Result{Duration: time.Since(start)}
	if err != nil {
		result.ExitCode = -1
		return result, &ExecutionError{Op: "restart", Endpoint: endpoint.Key(), Err: err}
	}

	result.Success = true
	result.Output = fmt.Sprintf("container %s restarted", endpoint.RemediationID)
	d.logger.Debug().
		Str("container", endpoint.RemediationID).
		Dur("duration", result.Duration).
		Msg("container restarted")
	return result, nil
}

// FetchLogs implements Executor.
func (d *Docker) FetchLogs(ctx context.Context, endpoint fleet.Endpoint, maxLines int) (string, error) {
	if d == nil || d.api == nil {
		return "", errors.New("docker executor is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Logs)
	defer cancel()

	info, err := d.api.ContainerInspect(ctx, endpoint.RemediationID)
	if err != nil {
		return "", &ExecutionError{Op: "fetch logs", Endpoint: endpoint.Key(), Err: err}
	}

	rc, err := d.api.ContainerLogs(ctx, endpoint.RemediationID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(maxLines),
	})
	if err != nil {
		return "", &ExecutionError{Op: "fetch logs", Endpoint: endpoint.Key(), Err: err}
	}
	defer rc.Close()

	var buf bytes.Buffer
	if info.Config != nil && info.Config.Tty {
		_, err = io.Copy(&buf, rc)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, rc)
	}
	if err != nil {
		return "", &ExecutionError{Op: "fetch logs", Endpoint: endpoint.Key(), Err: err}
	}

	return truncateOutput(buf.String()), nil
}

// Close releases the underlying client.
func (d *Docker) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}
