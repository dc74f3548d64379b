package generator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []*kafka.Message
	calls    int
	failN    int  // 前 failN 次返回错误
	block    bool // 阻塞直到 ctx 超时
}

func (p *fakePublisher) Send(ctx context.Context, msg *kafka.Message) error {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if call <= p.failN {
		return errors.New("local queue full")
	}

	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) snapshot() (int, []*kafka.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]*kafka.Message(nil), p.messages...)
}

func newOrderbookGen(t *testing.T) Generator {
	t.Helper()
	g, err := NewOrderbook("orderbook", "C", ValueModeFixed, nil)
	require.NoError(t, err)
	return g
}

func TestEngine_TickAppendsHeaders(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEngine(newOrderbookGen(t), pub, EngineConfig{
		TickInterval:   time.Second,
		PublishTimeout: 100 * time.Millisecond,
		Headers: []kafka.Header{
			{Key: model.HeaderProducerID, Value: []byte("incarnation-1")},
			{Key: model.HeaderWorkerSlot, Value: []byte("3")},
		},
	}, nil)

	require.NoError(t, e.Tick(context.Background()))

	_, msgs := pub.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "C", string(msgs[0].Key))

	v, ok := msgs[0].Header(model.HeaderProducerID)
	require.True(t, ok)
	assert.Equal(t, "incarnation-1", string(v))
	v, ok = msgs[0].Header(model.HeaderWorkerSlot)
	require.True(t, ok)
	assert.Equal(t, "3", string(v))
	v, ok = msgs[0].Header(model.HeaderEventType)
	require.True(t, ok)
	assert.Equal(t, model.EventTypeOrderbook, string(v))
}

func TestEngine_TickSkipsEmptyUniverse(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEngine(NewTrigger("active", []partition.Spread{}, nil), pub, EngineConfig{}, nil)

	assert.NoError(t, e.Tick(context.Background()))

	calls, _ := pub.snapshot()
	assert.Zero(t, calls)
}

func TestEngine_TickBoundedBySlowPublisher(t *testing.T) {
	pub := &fakePublisher{block: true}
	e := NewEngine(newOrderbookGen(t), pub, EngineConfig{
		TickInterval:   time.Second,
		PublishTimeout: 20 * time.Millisecond,
	}, nil)

	start := time.Now()
	err := e.Tick(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEngine_RunContinuesAfterFailures(t *testing.T) {
	pub := &fakePublisher{failN: 3}
	e := NewEngine(newOrderbookGen(t), pub, EngineConfig{
		TickInterval:   5 * time.Millisecond,
		PublishTimeout: 2 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, msgs := pub.snapshot()
		return len(msgs) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancel")
	}

	calls, msgs := pub.snapshot()
	// 失败的 tick 被丢弃，不重试
	assert.Equal(t, calls-3, len(msgs))
}

func TestEngine_RunWaitsOneInterval(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEngine(newOrderbookGen(t), pub, EngineConfig{
		TickInterval:   200 * time.Millisecond,
		PublishTimeout: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	calls, _ := pub.snapshot()
	assert.Zero(t, calls)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(newOrderbookGen(t), &fakePublisher{}, EngineConfig{}, nil)
	assert.Equal(t, time.Second, e.config.TickInterval)
	assert.Equal(t, 200*time.Millisecond, e.config.PublishTimeout)

	e = NewEngine(newOrderbookGen(t), &fakePublisher{}, EngineConfig{
		TickInterval:   100 * time.Millisecond,
		PublishTimeout: time.Second,
	}, nil)
	assert.Equal(t, 20*time.Millisecond, e.config.PublishTimeout)
}
