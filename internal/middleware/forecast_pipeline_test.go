package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Clarity/internal/domain/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type nopMetrics struct{}

func (nopMetrics) RecordFusion(bool)                           {}
func (nopMetrics) ObserveCache(string)                         {}
func (nopMetrics) RecordProvider(string, error, time.Duration) {}
func (nopMetrics) RecordPublished(string, error)               {}
func (nopMetrics) RecordError(string)                          {}
func (nopMetrics) RecordExpectedTotal(float64)                 {}
func (nopMetrics) SetBufferDepth(int)                          {}
func (nopMetrics) RecordLatency(string, float64)               {}

type depthMetrics struct {
	nopMetrics
	mu     sync.Mutex
	depths []int
	ops    []string
}

func (m *depthMetrics) SetBufferDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, n)
}

func (m *depthMetrics) RecordLatency(op string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

type collectProc struct {
	mu   sync.Mutex
	ids  []string
	err  error
	gate chan struct{}
}

func (c *collectProc) Process(_ context.Context, rec *models.ForecastRecord) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, rec.ID)
	return c.err
}

func (c *collectProc) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func rec(id, loc string) *models.ForecastRecord {
	return &models.ForecastRecord{ID: id, Query: models.ForecastQuery{Location: loc}}
}

func TestPipelineDeliversInOrder(t *testing.T) {
	proc := &collectProc{}
	p := NewForecastPipeline(proc, nopMetrics{})
	p.Start()

	require.NoError(t, p.Submit(rec("1", "soho")))
	require.NoError(t, p.Submit(rec("2", "soho")))
	require.NoError(t, p.Submit(rec("3", "tribeca")))
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, []string{"1", "2", "3"}, proc.seen())
	assert.ErrorIs(t, p.Submit(rec("4", "soho")), ErrPipelineClosed)
}

func TestPipelineThrottlesPerLocation(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	proc := &collectProc{}
	p := NewForecastPipeline(proc, nopMetrics{}, WithThrottle(time.Minute), WithPipelineClock(func() time.Time { return now }))
	p.Start()

	require.NoError(t, p.Submit(rec("1", "soho")))
	require.NoError(t, p.Submit(rec("2", "soho")))
	require.NoError(t, p.Submit(rec("3", "tribeca")))
	now = now.Add(time.Minute)
	require.NoError(t, p.Submit(rec("4", "soho")))
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, []string{"1", "3", "4"}, proc.seen())
}

func TestPipelineRejectsInvalidAndFullBuffer(t *testing.T) {
	proc := &collectProc{gate: make(chan struct{})}
	p := NewForecastPipeline(proc, nopMetrics{}, WithBufferSize(1))

	assert.Error(t, p.Submit(nil))
	assert.Error(t, p.Submit(rec("", "soho")))
	assert.Error(t, p.Submit(rec("1", "")))

	require.NoError(t, p.Submit(rec("1", "soho")))
	assert.ErrorIs(t, p.Submit(rec("2", "soho")), ErrBufferFull)

	p.Start()
	close(proc.gate)
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, []string{"1"}, proc.seen())
}

func TestPipelineKeepsRunningAfterDownstreamError(t *testing.T) {
	proc := &collectProc{err: errors.New("sink down")}
	p := NewForecastPipeline(proc, nopMetrics{})
	p.Start()
	require.NoError(t, p.Submit(rec("1", "soho")))
	require.NoError(t, p.Submit(rec("2", "soho")))
	require.NoError(t, p.Stop(context.Background()))
	assert.Len(t, proc.seen(), 2)
}

func TestPipelineReportsBufferDepthAsGauge(t *testing.T) {
	proc := &collectProc{gate: make(chan struct{})}
	m := &depthMetrics{}
	p := NewForecastPipeline(proc, m, WithBufferSize(4))

	require.NoError(t, p.Submit(rec("1", "soho")))
	require.NoError(t, p.Submit(rec("2", "tribeca")))

	p.Start()
	close(proc.gate)
	require.NoError(t, p.Stop(context.Background()))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.GreaterOrEqual(t, len(m.depths), 2)
	assert.Equal(t, []int{1, 2}, m.depths[:2])
	assert.Equal(t, 0, m.depths[len(m.depths)-1])
	assert.NotContains(t, m.ops, "pipeline_buffer_depth")
}
