package diagnose

import (
	"regexp"
	"strings"
)

const (
	extractScanLines = 500
	extractKeepLines = 20
)

var errorLinePattern = regexp.MustCompile(`(?i)error|fatal|exception|failed to|connection refused|unable to|cannot|warn|shutdown|retrying|disconnected`)

// ExtractErrorLines returns the last matching lines among the most recent log lines.
func ExtractErrorLines(logText string) []string {
	lines := strings.Split(logText, "\n")
	if len(lines) > extractScanLines {
		lines = lines[len(lines)-extractScanLines:]
	}

	var found []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if errorLinePattern.MatchString(line) {
			found = append(found, line)
		}
	}

	if len(found) > extractKeepLines {
		found = found[len(found)-extractKeepLines:]
	}
	return found
}
