package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = 22

// SSHConfig describes how to reach remote hosts.
type SSHConfig struct {
	User           string
	Port           int
	KeyPath        string
	KnownHostsPath string
	DialTimeout    time.Duration
}

type sshDialer func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// SSH runs commands on remote hosts over an SSH session per command.
type SSH struct {
	logger   zerolog.Logger
	config   *ssh.ClientConfig
	port     int
	commands Commands
	timeouts Timeouts
	dial     sshDialer
}

// NewSSH loads the private key and known_hosts file and returns a remote executor.
// Host keys are always verified.
func NewSSH(logger zerolog.Logger, cfg SSHConfig, commands Commands, timeouts Timeouts) (*SSH, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.KnownHostsPath == "" {
		return nil, errors.New("ssh known_hosts path is required")
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKeys, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return newSSH(logger, cfg, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.DialTimeout,
	}, commands, timeouts), nil
}

func newSSH(logger zerolog.Logger, cfg SSHConfig, clientConfig *ssh.ClientConfig, commands Commands, timeouts Timeouts) *SSH {
	port := cfg.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	if clientConfig.Timeout <= 0 {
		clientConfig.Timeout = 10 * time.Second
	}
	return &SSH{
		logger:   logger,
		config:   clientConfig,
		port:     port,
		commands: commands,
		timeouts: timeouts.withDefaults(),
		dial:     dialSSH,
	}
}

// Restart implements Executor.
func (s *SSH) Restart(ctx context.Context, endpoint fleet.Endpoint) (Result, error) {
	result, err := s.Run(ctx, endpoint.Host, s.commands.Restart(endpoint), s.timeouts.Restart)
	if err != nil {
		return result, &ExecutionError{Op: "restart", Endpoint: endpoint.Key(), Err: err}
	}
	return result, nil
}

// FetchLogs implements Executor.
func (s *SSH) FetchLogs(ctx context.Context, endpoint fleet.Endpoint, maxLines int) (string, error) {
	result, err := s.Run(ctx, endpoint.Host, s.commands.Tail(endpoint, maxLines), s.timeouts.Logs)
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

// Run executes argv on host. A non-zero remote exit is reported through Result.
func (s *SSH) Run(ctx context.Context, host string, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("no command specified")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	addr := net.JoinHostPort(host, strconv.Itoa(s.port))
	client, err := s.dial(runCtx, addr, s.config)
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := shellescape.QuoteCommand(argv)
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("command timed out after %s", timeout)
	}

	result := Result{
		Duration: time.Since(start),
		Output:   truncateOutput(stdout.String()),
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		result.Success = true
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		if stderr.Len() > 0 {
			result.Output = truncateOutput(stdout.String() + stderr.String())
		}
	default:
		result.ExitCode = -1
		return result, runErr
	}

	s.logger.Debug().
		Str("host", host).
		Str("command", command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("remote command finished")

	return result, nil
}

func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
