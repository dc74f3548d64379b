package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/config"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/supervisor"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

type fakeSender struct {
	mu         sync.Mutex
	cfg        *kafka.ProducerConfig
	onDelivery kafka.DeliveryHandler
	sent       []*kafka.Message
	closed     bool
	panicAt    int // 第 N 次发送时 panic，0 不 panic
}

func (s *fakeSender) Send(_ context.Context, msg *kafka.Message) error {
	s.mu.Lock()
	if s.panicAt > 0 && len(s.sent)+1 == s.panicAt {
		s.mu.Unlock()
		panic("producer queue corrupted")
	}
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.onDelivery(msg, nil)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) messages() []*kafka.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kafka.Message(nil), s.sent...)
}

func testConfig(workers int) *config.Config {
	cfg := config.Default()
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.GroupID = "feedgen"
	cfg.Topics = config.TopicsConfig{Active: "active-streams", Orderbook: "orderbook"}
	cfg.Generator.TickInterval = 5 * time.Millisecond
	cfg.Generator.PublishTimeout = 2 * time.Millisecond
	cfg.Worker.Count = workers
	return cfg
}

func newTestRunner(t *testing.T, workers int) (*Runner, *fakeSender) {
	t.Helper()
	cfg := testConfig(workers)
	plan, err := partition.New(workers)
	require.NoError(t, err)

	sender := &fakeSender{}
	r := NewRunner(cfg, plan, zap.NewNop())
	r.newSender = func(pc *kafka.ProducerConfig, onDelivery kafka.DeliveryHandler) (kafka.Sender, error) {
		sender.cfg = pc
		sender.onDelivery = onDelivery
		return sender, nil
	}
	return r, sender
}

func TestRunner_OrderbookSlot(t *testing.T) {
	r, sender := newTestRunner(t, 4)

	ctx, cancel := context.WithCancel(WithWorkerID(context.Background(), "incarnation-7"))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 2) }()

	require.Eventually(t, func() bool { return len(sender.messages()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.True(t, sender.closed)
	assert.Equal(t, "feedgen-worker-2", sender.cfg.ClientID)

	for _, msg := range sender.messages() {
		assert.Equal(t, "orderbook", msg.Topic)
		assert.Equal(t, "B", string(msg.Key))
		assert.Equal(t, kafka.PartitionAny, msg.Partition)

		var event model.OrderbookEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, "B", event.Asset)
		assert.Regexp(t, `^[0-9A-F]{12}$`, event.Value)

		v, ok := msg.Header(model.HeaderWorkerSlot)
		require.True(t, ok)
		assert.Equal(t, "2", string(v))
		v, ok = msg.Header(model.HeaderProducerID)
		require.True(t, ok)
		assert.Equal(t, "incarnation-7", string(v))
	}
}

func TestRunner_TriggerSlot(t *testing.T) {
	r, sender := newTestRunner(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, partition.TriggerSlot) }()

	require.Eventually(t, func() bool { return len(sender.messages()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msg := sender.messages()[0]
	assert.Equal(t, "active-streams", msg.Topic)

	var event model.TriggerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Contains(t, []string{"A_B", "B_A"}, event.Spread)
	assert.Equal(t, event.Spread, string(msg.Key))

	// 未指定实例 ID 时自动生成
	v, ok := msg.Header(model.HeaderProducerID)
	require.True(t, ok)
	assert.Len(t, string(v), 36)
}

func TestRunner_Errors(t *testing.T) {
	r, _ := newTestRunner(t, 2)
	err := r.Run(context.Background(), 5)
	assert.ErrorIs(t, err, partition.ErrSlotOutOfRange)

	senderErr := errors.New("broker unreachable")
	r.newSender = func(*kafka.ProducerConfig, kafka.DeliveryHandler) (kafka.Sender, error) {
		return nil, senderErr
	}
	err = r.Run(context.Background(), 1)
	assert.ErrorIs(t, err, senderErr)
}

func TestSupervisedRunner_CrashReplacedOnSameSlot(t *testing.T) {
	const workers = 4
	cfg := testConfig(workers)
	plan, err := partition.New(workers)
	require.NoError(t, err)

	var mu sync.Mutex
	senders := map[string][]*fakeSender{}
	r := NewRunner(cfg, plan, zap.NewNop())
	r.newSender = func(pc *kafka.ProducerConfig, onDelivery kafka.DeliveryHandler) (kafka.Sender, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &fakeSender{cfg: pc, onDelivery: onDelivery}
		// 槽位 2 的第一个实例在第 3 次发送时崩溃
		if pc.ClientID == "feedgen-worker-2" && len(senders[pc.ClientID]) == 0 {
			s.panicAt = 3
		}
		senders[pc.ClientID] = append(senders[pc.ClientID], s)
		return s, nil
	}
	sendersOf := func(slot int) []*fakeSender {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeSender(nil), senders[fmt.Sprintf("feedgen-worker-%d", slot)]...)
	}

	sup := supervisor.New(plan, NewTaskLauncher(r), supervisor.DefaultConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := sendersOf(2)
		return len(s) == 2 && len(s[1].messages()) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := sup.Stats()
	assert.Equal(t, 1, stats[2].Restarts)
	assert.Contains(t, stats[2].LastError, "worker panic")
	for _, i := range []int{0, 1, 3} {
		assert.Equal(t, 0, stats[i].Restarts, "slot %d", i)
		assert.Len(t, sendersOf(i), 1, "slot %d", i)
	}

	slot2 := sendersOf(2)
	require.Len(t, slot2, 2)
	first, second := slot2[0], slot2[1]
	assert.True(t, first.closed)
	assert.Len(t, first.messages(), 2)

	firstID, ok := first.messages()[0].Header(model.HeaderProducerID)
	require.True(t, ok)

	for _, msg := range second.messages() {
		assert.Equal(t, "orderbook", msg.Topic)
		assert.Equal(t, "B", string(msg.Key))

		var event model.OrderbookEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, "B", event.Asset)

		v, ok := msg.Header(model.HeaderWorkerSlot)
		require.True(t, ok)
		assert.Equal(t, "2", string(v))

		id, ok := msg.Header(model.HeaderProducerID)
		require.True(t, ok)
		assert.Equal(t, stats[2].WorkerID, string(id))
		assert.NotEqual(t, string(firstID), string(id))
	}
}

type runnerFunc func(ctx context.Context, slotIndex int) error

func (f runnerFunc) Run(ctx context.Context, slotIndex int) error { return f(ctx, slotIndex) }

func TestTaskLauncher_PanicBecomesError(t *testing.T) {
	l := NewTaskLauncher(runnerFunc(func(context.Context, int) error {
		panic("boom")
	}))

	h, err := l.Launch(context.Background(), partition.Slot{Index: 1, Role: partition.RoleOrderbook, Asset: "A"})
	require.NoError(t, err)

	err = h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker panic: boom")
}

func TestTaskLauncher_PassesSlotAndID(t *testing.T) {
	var gotSlot int
	var gotID string
	l := NewTaskLauncher(runnerFunc(func(ctx context.Context, slotIndex int) error {
		gotSlot = slotIndex
		gotID = WorkerIDFromContext(ctx)
		return errors.New("exited")
	}))

	h, err := l.Launch(context.Background(), partition.Slot{Index: 3})
	require.NoError(t, err)
	assert.EqualError(t, h.Wait(), "exited")
	assert.Equal(t, 3, gotSlot)
	assert.Equal(t, h.ID(), gotID)
}

func newShellLauncher(t *testing.T, script string) *ProcessLauncher {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	return &ProcessLauncher{
		path:      "/bin/sh",
		args:      []string{"-c", script},
		waitDelay: time.Second,
		logger:    zap.NewNop(),
	}
}

func TestProcessLauncher_ExitIsError(t *testing.T) {
	l := newShellLauncher(t, "exit 3")

	h, err := l.Launch(context.Background(), partition.Slot{Index: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())

	err = h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestProcessLauncher_CancelTerminates(t *testing.T) {
	// exec 使 SIGTERM 直接送达 sleep，不留下占用输出管道的孤儿进程
	l := newShellLauncher(t, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	h, err := l.Launch(ctx, partition.Slot{Index: 2})
	require.NoError(t, err)

	start := time.Now()
	cancel()
	_ = h.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessLauncher_StartError(t *testing.T) {
	l := &ProcessLauncher{path: "/nonexistent/feedgen", logger: zap.NewNop()}
	_, err := l.Launch(context.Background(), partition.Slot{Index: 0})
	assert.Error(t, err)
}
