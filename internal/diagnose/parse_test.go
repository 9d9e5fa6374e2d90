package diagnose

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse_AllSections(t *testing.T) {
	text := `SUMMARY: Broker failed to bind its listener.
ACTION: restart
REASON: A previous process still held port 9092.
It exited a few seconds later.
CONFIDENCE: 0.9`

	r, err := ParseResponse(text)
	require.NoError(t, err)

	assert.Equal(t, "Broker failed to bind its listener.", r.Summary)
	assert.Equal(t, ActionRestart, r.Action)
	assert.Equal(t, "A previous process still held port 9092.\nIt exited a few seconds later.", r.Reasoning)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)
	assert.Equal(t, SourceAI, r.Source)
}

func TestParseResponse_MarkdownLabels(t *testing.T) {
	text := "**Summary:** Heap exhausted\n**Action:** escalate\n**Confidence:** 85%"

	r, err := ParseResponse(text)
	require.NoError(t, err)

	assert.Equal(t, "Heap exhausted", r.Summary)
	assert.Equal(t, ActionEscalate, r.Action)
	assert.InDelta(t, 0.85, r.Confidence, 1e-9)
}

func TestParseResponse_NoLabelsIsError(t *testing.T) {
	_, err := ParseResponse("The broker probably crashed, try restarting it.")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseResponse_ActionFallbacks(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Action
	}{
		{"missing action guesses restart", "SUMMARY: you should restart the broker", ActionRestart},
		{"unknown action guesses oom", "SUMMARY: OOM in broker\nACTION: investigate", ActionEscalate},
		{"out of memory phrase", "SUMMARY: process ran out of memory", ActionEscalate},
		{"permission", "SUMMARY: permission problem on data dir", ActionEscalate},
		{"nothing recognizable", "SUMMARY: unclear", ActionNone},
		{"no action phrase", "SUMMARY: transient\nACTION: no action needed", ActionNone},
		{"action with trailing text", "ACTION: Restart the service", ActionRestart},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseResponse(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, r.Action)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	assert.InDelta(t, 0.8, parseConfidence(""), 1e-9)
	assert.InDelta(t, 0.8, parseConfidence("high"), 1e-9)
	assert.InDelta(t, 0.7, parseConfidence("0.7 (fairly sure)"), 1e-9)
	assert.InDelta(t, 1.0, parseConfidence("1.7"), 1e-9)
	assert.InDelta(t, 0.0, parseConfidence("-0.2"), 1e-9)
	assert.InDelta(t, 0.9, parseConfidence("90%"), 1e-9)
}

func TestParseResponse_MissingSummaryUsesFirstLine(t *testing.T) {
	r, err := ParseResponse("Analysis follows\nACTION: escalate")
	require.NoError(t, err)
	assert.Equal(t, "Analysis follows", r.Summary)
	assert.InDelta(t, defaultConfidence, r.Confidence, 1e-9)
}

func TestFirstLineCutsOnRuneBoundary(t *testing.T) {
	line := "a" + strings.Repeat("é", 150)

	got := firstLine("\n  " + line + "\nsecond")
	assert.Equal(t, "a"+strings.Repeat("é", 99), got)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxLineBytes)
}
