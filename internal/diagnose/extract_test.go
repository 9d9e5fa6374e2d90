package diagnose

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractErrorLines_MatchesPatterns(t *testing.T) {
	logs := strings.Join([]string{
		"INFO starting broker",
		"ERROR [KafkaServer id=1] Fatal error during startup",
		"   ",
		"WARN Retrying connection to zookeeper",
		"INFO idle",
		"java.net.BindException: Address already in use",
	}, "\n")

	lines := ExtractErrorLines(logs)

	assert.Equal(t, []string{
		"ERROR [KafkaServer id=1] Fatal error during startup",
		"WARN Retrying connection to zookeeper",
		"java.net.BindException: Address already in use",
	}, lines)
}

func TestExtractErrorLines_KeepsLastTwenty(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "ERROR line %d\n", i)
	}

	lines := ExtractErrorLines(b.String())

	assert.Len(t, lines, 20)
	assert.Equal(t, "ERROR line 10", lines[0])
	assert.Equal(t, "ERROR line 29", lines[19])
}

func TestExtractErrorLines_ScansOnlyRecentLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("ERROR ancient failure\n")
	for i := 0; i < 600; i++ {
		b.WriteString("INFO ok\n")
	}

	assert.Empty(t, ExtractErrorLines(b.String()))
}
