package diagnose

import "strings"

// rule matches any of its patterns against lower-cased log text.
type rule struct {
	name       string
	patterns   []string
	action     Action
	confidence float64
	summary    string
	reasoning  string
}

// Evaluated in order; the first match wins.
var rules = []rule{
	{
		name:       "out_of_memory",
		patterns:   []string{"outofmemoryerror", "out of memory", "java heap space", "oom-killer", "oomkilled", "cannot allocate memory"},
		action:     ActionEscalate,
		confidence: 0.95,
		summary:    "JVM or process ran out of memory",
		reasoning:  "Memory exhaustion recurs after a restart until heap size or load is changed; increase KAFKA_HEAP_OPTS or investigate leaks.",
	},
	{
		name:       "port_in_use",
		patterns:   []string{"bindexception", "address already in use", "port already in use", "failed to bind"},
		action:     ActionRestart,
		confidence: 0.90,
		summary:    "Listener port is already in use",
		reasoning:  "A stale process or a previous instance holds the port; a clean restart usually releases it.",
	},
	{
		name: "filesystem",
		patterns: []string{"permission denied", "accessdeniedexception", "no space left on device",
			"read-only file system", "corrupt", "input/output error"},
		action:     ActionEscalate,
		confidence: 0.90,
		summary:    "Filesystem, permission or data corruption problem",
		reasoning:  "Disk, permission and corruption faults need operator action on the host; restarting will not fix them.",
	},
	{
		name:       "connection_refused",
		patterns:   []string{"connection refused", "not accepting connections", "connectexception"},
		action:     ActionRestart,
		confidence: 0.85,
		summary:    "Service or one of its dependencies refused connections",
		reasoning:  "Check that Zookeeper is reachable from the broker and retry the restart.",
	},
}

const noMatchConfidence = 0.60

// Classify applies the rule table to logText. It is pure and case-insensitive.
func Classify(logText string) Result {
	lower := strings.ToLower(logText)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return Result{
					Summary:    r.summary,
					Action:     r.action,
					Confidence: r.confidence,
					Reasoning:  r.reasoning + " (matched " + r.name + ": " + p + ")",
					Source:     SourceRules,
				}
			}
		}
	}
	return Result{
		Summary:    "No known failure pattern found in logs",
		Action:     ActionNone,
		Confidence: noMatchConfidence,
		Reasoning:  "Manual log review is needed; check service status, configuration and dependencies.",
		Source:     SourceRules,
	}
}
