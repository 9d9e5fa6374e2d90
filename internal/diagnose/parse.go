package diagnose

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultConfidence = 0.8
	maxLineBytes      = 200
)

// ErrUnparseable means a backend response carried none of the expected sections.
var ErrUnparseable = errors.New("response has no recognized sections")

var (
	sectionPattern = regexp.MustCompile(`^[\s*#>_-]*([A-Za-z][A-Za-z ]*?)[\s*_]*:[\s*_]*(.*)$`)
	numberPattern  = regexp.MustCompile(`[-+]?\d*\.?\d+`)
)

// parseSections splits text into the labeled sections named in labels
// (upper case). Unlabeled lines extend the current section.
func parseSections(text string, labels ...string) map[string]string {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}

	sections := make(map[string]string)
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if m := sectionPattern.FindStringSubmatch(line); m != nil {
			label := strings.ToUpper(strings.TrimSpace(m[1]))
			if known[label] {
				current = label
				sections[label] = strings.TrimSpace(m[2])
				continue
			}
		}
		if current == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if sections[current] == "" {
			sections[current] = trimmed
		} else {
			sections[current] += "\n" + trimmed
		}
	}
	return sections
}

// ParseResponse extracts a Result from a backend response. Missing or unknown
// fields are filled with conservative values; a response with no labeled
// section at all is rejected with ErrUnparseable.
func ParseResponse(text string) (Result, error) {
	sections := parseSections(text, "SUMMARY", "ACTION", "REASON", "CONFIDENCE")
	if len(sections) == 0 {
		return Result{}, ErrUnparseable
	}

	result := Result{
		Summary:    sections["SUMMARY"],
		Reasoning:  sections["REASON"],
		Confidence: parseConfidence(sections["CONFIDENCE"]),
		Source:     SourceAI,
	}

	action, ok := parseAction(sections["ACTION"])
	if !ok {
		action = guessAction(text)
	}
	result.Action = action

	if result.Summary == "" {
		result.Summary = firstLine(text)
	}
	return result, nil
}

func parseAction(value string) (Action, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.Trim(v, " .*`'\"")
	if i := strings.IndexAny(v, " \n,;("); i > 0 && !strings.HasPrefix(v, "no ") {
		v = v[:i]
	}
	switch v {
	case "restart":
		return ActionRestart, true
	case "escalate":
		return ActionEscalate, true
	case "no-action", "no action", "none", "no_action":
		return ActionNone, true
	}
	if strings.HasPrefix(v, "no action") || strings.HasPrefix(v, "no-action") {
		return ActionNone, true
	}
	return "", false
}

func guessAction(text string) Action {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "restart"):
		return ActionRestart
	case strings.Contains(lower, "oom"), strings.Contains(lower, "out of memory"):
		return ActionEscalate
	case strings.Contains(lower, "permission"):
		return ActionEscalate
	default:
		return ActionNone
	}
}

func parseConfidence(value string) float64 {
	m := numberPattern.FindString(value)
	if m == "" {
		return defaultConfidence
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return defaultConfidence
	}
	if strings.Contains(value, "%") {
		f /= 100
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > maxLineBytes {
				cut := maxLineBytes
				for cut > 0 && !utf8.RuneStart(line[cut]) {
					cut--
				}
				line = line[:cut]
			}
			return line
		}
	}
	return ""
}
