package fleet

import (
	"net"
	"strconv"
)

// ExecutorKind selects how remediation commands reach a host.
type ExecutorKind string

const (
	ExecutorLocal  ExecutorKind = "local"
	ExecutorSSH    ExecutorKind = "ssh"
	ExecutorDocker ExecutorKind = "docker"
)

// Valid reports whether the kind is one of the supported executors.
func (k ExecutorKind) Valid() bool {
	switch k {
	case ExecutorLocal, ExecutorSSH, ExecutorDocker:
		return true
	}
	return false
}

// Endpoint is one monitored (host, service) pair. Endpoints are loaded once at
// startup and shared read-only.
type Endpoint struct {
	Host          string       `json:"host"`
	Port          int          `json:"port"`
	Service       string       `json:"service"`
	RemediationID string       `json:"remediation_id"` // systemd unit or container name
	LogSource     string       `json:"log_source,omitempty"`
	Executor      ExecutorKind `json:"executor"`
}

// Key identifies the endpoint's state entry.
func (e Endpoint) Key() Key {
	return Key{Host: e.Host, Service: e.Service}
}

// Address returns host:port for probing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Key is the (host, service) pair that owns one state entry.
type Key struct {
	Host    string
	Service string
}

func (k Key) String() string {
	return k.Host + ":" + k.Service
}
