package logger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	pub := &recordingPublisher{}
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("provider failed", String("provider", "weather_event"), Error(errors.New("timeout")))
	}
	l.Info("not collected")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, []string{"logs"}, pub.topics)
	require.Len(t, pub.batches[0], 1)
	entry := pub.batches[0][0]
	assert.Equal(t, 3, entry.Count)
	assert.Equal(t, "provider failed", entry.Message)
	assert.Equal(t, "weather_event", entry.Fields["provider"])
	assert.Equal(t, "timeout", entry.Fields["error"])

	assert.Contains(t, buf.String(), `"message":"not collected"`)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
}
