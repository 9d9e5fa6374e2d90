package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"gopkg.in/yaml.v3"
)

// ServiceSpec is one service entry under a server.
type ServiceSpec struct {
	Name          string `yaml:"name"`
	Port          int    `yaml:"port"`
	RemediationID string `yaml:"remediation_id"`
	SystemdName   string `yaml:"systemd_name"`
	LogSource     string `yaml:"log_source"`
	LogFile       string `yaml:"log_file"`
}

// ServerSpec groups the services running on one host.
type ServerSpec struct {
	Host     string        `yaml:"host"`
	Executor string        `yaml:"executor"`
	Services []ServiceSpec `yaml:"services"`
}

// MonitoringSpec holds the loop and remediation thresholds.
type MonitoringSpec struct {
	CheckIntervalSeconds       int  `yaml:"check_interval_seconds"`
	MaxRestartAttempts         int  `yaml:"max_restart_attempts"`
	RestartWaitTime            int  `yaml:"restart_wait_time"`
	MinFailureIntervalMinutes  int  `yaml:"min_failure_interval_minutes"`
	MinFailureInterval         *int `yaml:"min_failure_interval"`
	RestartCooldownMinutes     int  `yaml:"restart_cooldown_minutes"`
	LogLinesToAnalyze          int  `yaml:"log_lines_to_analyze"`
	ProbeTimeoutSeconds        int  `yaml:"probe_timeout_seconds"`
	CommandTimeoutSeconds      int  `yaml:"command_timeout_seconds"`
	LogTimeoutSeconds          int  `yaml:"log_timeout_seconds"`
	Workers                    int  `yaml:"workers"`
	CycleFailureBackoffSeconds int  `yaml:"cycle_failure_backoff_seconds"`
}

// AISpec configures the diagnosis backend.
type AISpec struct {
	Enabled               bool     `yaml:"enabled"`
	OllamaURL             string   `yaml:"ollama_url"`
	Model                 string   `yaml:"model"`
	MaxAttempts           int      `yaml:"max_attempts"`
	AttemptTimeoutSeconds int      `yaml:"attempt_timeout_seconds"`
	RetryDelaySeconds     int      `yaml:"retry_delay_seconds"`
	MaxLogChars           int      `yaml:"max_log_chars"`
	RestartCommand        []string `yaml:"restart_command"`
}

// SSHSpec configures the ssh executor.
type SSHSpec struct {
	User           string `yaml:"user"`
	Port           int    `yaml:"port"`
	KeyPath        string `yaml:"key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`
	UseSudo        bool   `yaml:"use_sudo"`
}

// DockerSpec configures the docker executor.
type DockerSpec struct {
	Host string `yaml:"host"`
}

// EmailSpec configures the SMTP notifier.
type EmailSpec struct {
	SMTPServer string   `yaml:"smtp_server"`
	SMTPPort   int      `yaml:"smtp_port"`
	FromEmail  string   `yaml:"from_email"`
	ToEmails   []string `yaml:"to_emails"`
}

// FleetFile is the parsed YAML structure of the fleet configuration.
type FleetFile struct {
	Servers    []ServerSpec   `yaml:"servers"`
	Monitoring MonitoringSpec `yaml:"monitoring"`
	AI         AISpec         `yaml:"ai"`
	SSH        SSHSpec        `yaml:"ssh"`
	Docker     DockerSpec     `yaml:"docker"`
	Email      EmailSpec      `yaml:"email"`
}

// Monitoring is MonitoringSpec with units applied.
type Monitoring struct {
	CheckInterval       time.Duration
	MaxRestartAttempts  int
	RestartWait         time.Duration
	MinFailureInterval  time.Duration
	RestartCooldown     time.Duration
	LogLines            int
	ProbeTimeout        time.Duration
	CommandTimeout      time.Duration
	LogTimeout          time.Duration
	Workers             int
	CycleFailureBackoff time.Duration
}

// AI is AISpec with units applied.
type AI struct {
	Enabled        bool
	OllamaURL      string
	Model          string
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	MaxLogChars    int
	RestartCommand []string
}

// Fleet is the validated fleet configuration.
type Fleet struct {
	Endpoints  []fleet.Endpoint
	Monitoring Monitoring
	AI         AI
	SSH        SSHSpec
	Docker     DockerSpec
	Email      EmailSpec
}

// UsesExecutor reports whether any endpoint needs the given executor.
func (f Fleet) UsesExecutor(kind fleet.ExecutorKind) bool {
	for _, ep := range f.Endpoints {
		if ep.Executor == kind {
			return true
		}
	}
	return false
}

func defaultFleetFile() FleetFile {
	return FleetFile{
		Monitoring: MonitoringSpec{
			CheckIntervalSeconds:       60,
			MaxRestartAttempts:         3,
			RestartWaitTime:            30,
			MinFailureIntervalMinutes:  5,
			RestartCooldownMinutes:     30,
			LogLinesToAnalyze:          200,
			ProbeTimeoutSeconds:        5,
			CommandTimeoutSeconds:      60,
			LogTimeoutSeconds:          30,
			Workers:                    1,
			CycleFailureBackoffSeconds: 30,
		},
		AI: AISpec{
			Enabled:               true,
			OllamaURL:             "http://localhost:11434",
			Model:                 "llama3",
			MaxAttempts:           3,
			AttemptTimeoutSeconds: 120,
			RetryDelaySeconds:     5,
			MaxLogChars:           2000,
			RestartCommand:        []string{"sudo", "systemctl", "start", "ollama"},
		},
		SSH: SSHSpec{Port: 22},
		Email: EmailSpec{
			SMTPPort: 25,
		},
	}
}

// LoadFleetFile parses and validates the fleet file at path. Values absent
// from the file keep their defaults.
func LoadFleetFile(path string) (Fleet, error) {
	if path == "" {
		return Fleet{}, fmt.Errorf("fleet file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}

	return ParseFleet(data)
}

// ParseFleet parses and validates fleet YAML.
func ParseFleet(data []byte) (Fleet, error) {
	ff := defaultFleetFile()
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet file: %w", err)
	}
	if ff.Monitoring.MinFailureInterval != nil {
		ff.Monitoring.MinFailureIntervalMinutes = *ff.Monitoring.MinFailureInterval
	}

	endpoints, err := resolveEndpoints(ff.Servers)
	if err != nil {
		return Fleet{}, err
	}

	if err := validateMonitoring(ff.Monitoring); err != nil {
		return Fleet{}, err
	}

	if err := validateAI(ff.AI); err != nil {
		return Fleet{}, err
	}

	f := Fleet{
		Endpoints:  endpoints,
		Monitoring: ff.Monitoring.resolve(),
		AI:         ff.AI.resolve(),
		SSH:        ff.SSH,
		Docker:     ff.Docker,
		Email:      ff.Email,
	}

	if f.UsesExecutor(fleet.ExecutorSSH) {
		if err := validateSSH(ff.SSH); err != nil {
			return Fleet{}, err
		}
	}

	if len(ff.Email.ToEmails) > 0 && ff.Email.SMTPServer == "" {
		return Fleet{}, fmt.Errorf("email: smtp_server is required when to_emails is set")
	}

	return f, nil
}

func resolveEndpoints(servers []ServerSpec) ([]fleet.Endpoint, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("fleet file contains no servers")
	}

	seen := make(map[fleet.Key]bool)
	var endpoints []fleet.Endpoint

	for i, server := range servers {
		host := strings.TrimSpace(server.Host)
		if host == "" {
			return nil, fmt.Errorf("server %d: host is required", i)
		}

		kind := fleet.ExecutorKind(strings.ToLower(strings.TrimSpace(server.Executor)))
		if kind == "" {
			kind = defaultExecutor(host)
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("server %q: unknown executor %q", host, server.Executor)
		}

		if len(server.Services) == 0 {
			return nil, fmt.Errorf("server %q: no services configured", host)
		}

		for j, svc := range server.Services {
			name := strings.TrimSpace(svc.Name)
			if name == "" {
				return nil, fmt.Errorf("server %q service %d: name is required", host, j)
			}
			if svc.Port < 1 || svc.Port > 65535 {
				return nil, fmt.Errorf("server %q service %q: port %d out of range", host, name, svc.Port)
			}

			ep := fleet.Endpoint{
				Host:          host,
				Port:          svc.Port,
				Service:       name,
				RemediationID: firstNonEmpty(svc.RemediationID, svc.SystemdName, name),
				LogSource:     firstNonEmpty(svc.LogSource, svc.LogFile),
				Executor:      kind,
			}
			if seen[ep.Key()] {
				return nil, fmt.Errorf("server %q service %q: duplicate host/service", host, name)
			}
			seen[ep.Key()] = true
			endpoints = append(endpoints, ep)
		}
	}

	return endpoints, nil
}

func defaultExecutor(host string) fleet.ExecutorKind {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return fleet.ExecutorLocal
	}
	return fleet.ExecutorSSH
}

func validateMonitoring(m MonitoringSpec) error {
	positive := []struct {
		name  string
		value int
	}{
		{"check_interval_seconds", m.CheckIntervalSeconds},
		{"max_restart_attempts", m.MaxRestartAttempts},
		{"log_lines_to_analyze", m.LogLinesToAnalyze},
		{"probe_timeout_seconds", m.ProbeTimeoutSeconds},
		{"command_timeout_seconds", m.CommandTimeoutSeconds},
		{"log_timeout_seconds", m.LogTimeoutSeconds},
		{"workers", m.Workers},
		{"cycle_failure_backoff_seconds", m.CycleFailureBackoffSeconds},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("monitoring: %s must be greater than zero", field.name)
		}
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"restart_wait_time", m.RestartWaitTime},
		{"min_failure_interval_minutes", m.MinFailureIntervalMinutes},
		{"restart_cooldown_minutes", m.RestartCooldownMinutes},
	}
	for _, field := range nonNegative {
		if field.value < 0 {
			return fmt.Errorf("monitoring: %s cannot be negative", field.name)
		}
	}
	return nil
}

func validateAI(ai AISpec) error {
	if !ai.Enabled {
		return nil
	}
	if err := validateURL(ai.OllamaURL, "ai.ollama_url"); err != nil {
		return err
	}
	if strings.TrimSpace(ai.Model) == "" {
		return fmt.Errorf("ai: model is required when enabled")
	}
	if ai.MaxAttempts <= 0 || ai.AttemptTimeoutSeconds <= 0 || ai.MaxLogChars <= 0 {
		return fmt.Errorf("ai: max_attempts, attempt_timeout_seconds and max_log_chars must be greater than zero")
	}
	if ai.RetryDelaySeconds < 0 {
		return fmt.Errorf("ai: retry_delay_seconds cannot be negative")
	}
	return nil
}

func validateSSH(s SSHSpec) error {
	if s.User == "" {
		return fmt.Errorf("ssh: user is required for ssh servers")
	}
	if s.KeyPath == "" {
		return fmt.Errorf("ssh: key_path is required for ssh servers")
	}
	if s.KnownHostsPath == "" {
		return fmt.Errorf("ssh: known_hosts_path is required for ssh servers")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("ssh: port %d out of range", s.Port)
	}
	return nil
}

func (m MonitoringSpec) resolve() Monitoring {
	return Monitoring{
		CheckInterval:       seconds(m.CheckIntervalSeconds),
		MaxRestartAttempts:  m.MaxRestartAttempts,
		RestartWait:         seconds(m.RestartWaitTime),
		MinFailureInterval:  time.Duration(m.MinFailureIntervalMinutes) * time.Minute,
		RestartCooldown:     time.Duration(m.RestartCooldownMinutes) * time.Minute,
		LogLines:            m.LogLinesToAnalyze,
		ProbeTimeout:        seconds(m.ProbeTimeoutSeconds),
		CommandTimeout:      seconds(m.CommandTimeoutSeconds),
		LogTimeout:          seconds(m.LogTimeoutSeconds),
		Workers:             m.Workers,
		CycleFailureBackoff: seconds(m.CycleFailureBackoffSeconds),
	}
}

func (a AISpec) resolve() AI {
	return AI{
		Enabled:        a.Enabled,
		OllamaURL:      a.OllamaURL,
		Model:          a.Model,
		MaxAttempts:    a.MaxAttempts,
		AttemptTimeout: seconds(a.AttemptTimeoutSeconds),
		RetryDelay:     seconds(a.RetryDelaySeconds),
		MaxLogChars:    a.MaxLogChars,
		RestartCommand: a.RestartCommand,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
