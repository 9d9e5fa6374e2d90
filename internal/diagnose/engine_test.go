package diagnose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	text string
	err  error
}

type fakeBackend struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []string
}

func (f *fakeBackend) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	idx := f.calls
	f.calls++
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	return f.replies[idx].text, f.replies[idx].err
}

var fastPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, AttemptTimeout: time.Second}

var kafkaContext = Context{
	Endpoint:         fleet.Endpoint{Host: "kafka-1", Port: 9092, Service: "kafka"},
	RestartAttempted: true,
	Attempts:         1,
}

const oomLogs = "ERROR java.lang.OutOfMemoryError: Java heap space"

func retryable(msg string) error {
	return &BackendError{Retryable: true, Err: errors.New(msg)}
}

func TestAnalyze_WithoutBackendUsesRules(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	r := e.Analyze(context.Background(), oomLogs, kafkaContext)

	assert.Equal(t, SourceRules, r.Source)
	assert.Equal(t, ActionEscalate, r.Action)
	assert.InDelta(t, 0.95, r.Confidence, 1e-9)
}

func TestAnalyze_UsesBackendResponse(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{text: "SUMMARY: heap\nACTION: escalate\nREASON: leak\nCONFIDENCE: 0.7"}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	r := e.Analyze(context.Background(), oomLogs, kafkaContext)

	assert.Equal(t, SourceAI, r.Source)
	assert.Equal(t, "heap", r.Summary)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
	require.Len(t, backend.prompts, 1)
	assert.Contains(t, backend.prompts[0], "OutOfMemoryError")
}

func TestAnalyze_RetriesThenFallsBack(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: retryable("timeout")}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	r := e.Analyze(context.Background(), oomLogs, kafkaContext)

	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, SourceRules, r.Source)
	assert.Equal(t, ActionEscalate, r.Action)
}

func TestAnalyze_RecoversOnLaterAttempt(t *testing.T) {
	backend := &fakeBackend{replies: []reply{
		{err: retryable("timeout")},
		{text: "SUMMARY: fine\nACTION: restart"},
	}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	r := e.Analyze(context.Background(), "", kafkaContext)

	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, SourceAI, r.Source)
	assert.Equal(t, ActionRestart, r.Action)
}

func TestAnalyze_PermanentErrorStopsRetries(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: &BackendError{StatusCode: 400, Err: errors.New("bad request")}}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	r := e.Analyze(context.Background(), oomLogs, kafkaContext)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, SourceRules, r.Source)
}

func TestAnalyze_ConnectionFailureRestartsBackendOnce(t *testing.T) {
	connErr := &BackendError{Connection: true, Retryable: true, Err: errors.New("connection refused")}
	backend := &fakeBackend{replies: []reply{{err: connErr}, {err: connErr}, {text: "SUMMARY: back\nACTION: no-action"}}}
	restarts := 0
	e := NewEngine(zerolog.Nop(),
		WithBackend(backend),
		WithRetryPolicy(fastPolicy),
		WithRestarter(RestarterFunc(func(context.Context) error {
			restarts++
			return nil
		})),
	)

	r := e.Analyze(context.Background(), "", kafkaContext)

	assert.Equal(t, 1, restarts)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, ActionNone, r.Action)
	assert.Equal(t, SourceAI, r.Source)
}

func TestAnalyze_UnparseableResponseFallsBack(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{text: "I think it's probably fine."}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	r := e.Analyze(context.Background(), "java.net.BindException", kafkaContext)

	assert.Equal(t, SourceRules, r.Source)
	assert.Equal(t, ActionRestart, r.Action)
}

func TestAnalyze_OpenBreakerSkipsBackend(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: retryable("down")}}}
	e := NewEngine(zerolog.Nop(),
		WithBackend(backend),
		WithRetryPolicy(fastPolicy),
		WithBreakerSettings(gobreaker.Settings{
			Name:        "test",
			Timeout:     time.Hour,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
		}),
	)

	first := e.Analyze(context.Background(), oomLogs, kafkaContext)
	second := e.Analyze(context.Background(), oomLogs, kafkaContext)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, SourceRules, first.Source)
	assert.Equal(t, SourceRules, second.Source)
}

func TestAnalyze_CanceledContextFallsBack(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: retryable("timeout")}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(RetryPolicy{MaxAttempts: 5, Delay: time.Hour, AttemptTimeout: time.Second}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := e.Analyze(ctx, oomLogs, kafkaContext)

	assert.Equal(t, SourceRules, r.Source)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func clusterFixture() []EndpointHealth {
	return []EndpointHealth{
		{Endpoint: fleet.Endpoint{Host: "a", Service: "kafka"}, Status: health.StatusDown, RestartAttempts: 2},
		{Endpoint: fleet.Endpoint{Host: "b", Service: "kafka"}, Status: health.StatusUp},
		{Endpoint: fleet.Endpoint{Host: "c", Service: "zookeeper"}, Status: health.StatusDown},
	}
}

func TestSummarizeCluster_ZookeeperFirst(t *testing.T) {
	d := SummarizeCluster(clusterFixture())

	assert.Equal(t, 1, d.Healthy)
	assert.Equal(t, 2, d.Failed)
	assert.Equal(t, SourceRules, d.Source)
	require.Len(t, d.Recommendations, 2)
	assert.Contains(t, d.Recommendations[0], "c:zookeeper")
	assert.Contains(t, d.Recommendations[1], "a:kafka")
	assert.Contains(t, d.Recommendations[1], "2 restart attempts")
	assert.Contains(t, d.Summary, "Zookeeper")
}

func TestSummarizeCluster_AllHealthy(t *testing.T) {
	d := SummarizeCluster([]EndpointHealth{{Endpoint: fleet.Endpoint{Host: "a", Service: "kafka"}, Status: health.StatusUp}})

	assert.Equal(t, "All 1 services are healthy.", d.Summary)
	assert.Empty(t, d.Recommendations)
}

func TestAnalyzeCluster_UsesBackend(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{text: "ASSESSMENT: degraded\nRECOMMENDATIONS:\n1. Fix zookeeper\n- Check disks"}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	d := e.AnalyzeCluster(context.Background(), clusterFixture())

	assert.Equal(t, SourceAI, d.Source)
	assert.Equal(t, "degraded", d.Summary)
	assert.Equal(t, []string{"Fix zookeeper", "Check disks"}, d.Recommendations)
	assert.Equal(t, 2, d.Failed)
}

func TestAnalyzeCluster_FallsBackOnGarbage(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{text: "no structure here"}}}
	e := NewEngine(zerolog.Nop(), WithBackend(backend), WithRetryPolicy(fastPolicy))

	d := e.AnalyzeCluster(context.Background(), clusterFixture())

	assert.Equal(t, SourceRules, d.Source)
}
