package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"commerce-engine/internal/broker"
	"commerce-engine/internal/models"
	"commerce-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSource struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (s *stubSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		s.errs = append(s.errs, handler(ctx, msg))
	}
	return nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

func TestSettlementWorkerRoutesUnknownEventsAway(t *testing.T) {
	util.SetLogger(zaptest.NewLogger(t))

	value, err := json.Marshal(models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderCreated})
	require.NoError(t, err)
	source := &stubSource{messages: []kafka.Message{{Value: value}, {Value: []byte("not json")}}}

	w := NewSettlementWorker(source, nil)
	require.NoError(t, w.Start(context.Background()))
	require.Len(t, source.errs, 2)
	assert.NoError(t, source.errs[0])
	assert.Error(t, source.errs[1])

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}

type stubSweeper struct {
	mu      sync.Mutex
	results []int
	err     error
	calls   int
}

func (s *stubSweeper) SweepExpired(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	if n > limit {
		n = limit
	}
	return n, nil
}

func (s *stubSweeper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSweepOnceDrainsFullBatches(t *testing.T) {
	util.SetLogger(zaptest.NewLogger(t))
	sweeper := &stubSweeper{results: []int{10, 10, 3}}

	cs := NewCartSweeper(sweeper, time.Minute, 10)
	assert.Equal(t, 23, cs.SweepOnce(context.Background()))
	assert.Equal(t, 3, sweeper.callCount())
}

func TestSweepOnceStopsOnError(t *testing.T) {
	util.SetLogger(zaptest.NewLogger(t))
	sweeper := &stubSweeper{err: errors.New("db down")}

	cs := NewCartSweeper(sweeper, time.Minute, 10)
	assert.Equal(t, 0, cs.SweepOnce(context.Background()))
	assert.Equal(t, 1, sweeper.callCount())
}

func TestCartSweeperRunsUntilCancelled(t *testing.T) {
	util.SetLogger(zaptest.NewLogger(t))
	sweeper := &stubSweeper{}
	cs := NewCartSweeper(sweeper, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cs.Start(ctx) }()

	require.Eventually(t, func() bool { return sweeper.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
