package health

import (
	"context"
	"net"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
)

const defaultProbeTimeout = 5 * time.Second

// TCPChecker reports an endpoint as up when a TCP connection to its port can be established.
type TCPChecker struct {
	logger  zerolog.Logger
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewTCPChecker returns a TCP probe. A non-positive timeout uses the 5s default.
func NewTCPChecker(logger zerolog.Logger, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &TCPChecker{
		logger:  logger,
		timeout: timeout,
		dial:    dialer.DialContext,
	}
}

// Check implements Checker. Refused, timed out, unreachable and DNS failures all yield false.
func (c *TCPChecker) Check(ctx context.Context, endpoint fleet.Endpoint) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", endpoint.Address())
	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("host", endpoint.Host).
			Int("port", endpoint.Port).
			Str("service", endpoint.Service).
			Msg("port check failed")
		return false
	}
	_ = conn.Close()
	return true
}
