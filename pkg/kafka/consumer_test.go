package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{msgs: make(chan kafka.Message, 32)}
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeFetcher) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string { return h.topic }

func (h funcHandler) Handle(_ context.Context, data []byte) error { return h.fn(data) }

func startTestConsumer(t *testing.T, f *fakeFetcher, h MessageHandler, opts ...ConsumerOption) *Consumer {
	t.Helper()
	c, err := NewConsumer(append([]ConsumerOption{
		WithConsumerBrokers([]string{"broker:9092"}),
		WithConsumerRetry(0, time.Millisecond, time.Millisecond),
	}, opts...)...)
	require.NoError(t, err)
	c.newFetcher = func(string) fetcher { return f }
	c.RegisterHandler(h)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestConsumerHandlesInPartitionOrderAndCommits(t *testing.T) {
	f := newFakeFetcher()
	var mu sync.Mutex
	var seen []string
	h := funcHandler{topic: "features.build", fn: func(b []byte) error {
		mu.Lock()
		seen = append(seen, string(b))
		mu.Unlock()
		return nil
	}}
	reg := prometheus.NewRegistry()
	c := startTestConsumer(t, f, h, WithConsumerWorkers(4), WithConsumerRegisterer(reg))

	for i, v := range []string{"a", "b", "c", "d"} {
		f.msgs <- kafka.Message{Topic: "features.build", Partition: 2, Offset: int64(i), Value: []byte(v)}
	}
	require.Eventually(t, func() bool { return len(f.commits()) == 4 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
	mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2, 3}, f.commits())
	assert.Equal(t, 4.0, testutil.ToFloat64(c.metrics.outcomes.WithLabelValues("features.build", "ok")))

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, f.closed)
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	f := newFakeFetcher()
	dlq := &fakeWriter{}
	calls := 0
	var hookErrs int
	h := funcHandler{topic: "t", fn: func([]byte) error {
		calls++
		return errors.New("bad symbol")
	}}
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"broker:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { hookErrs++ }}),
	)
	require.NoError(t, err)
	c.newFetcher = func(string) fetcher { return f }
	c.dlq = dlq
	c.RegisterHandler(h)
	require.NoError(t, c.Start())
	defer c.Stop(context.Background())

	f.msgs <- kafka.Message{Topic: "t", Partition: 0, Offset: 7, Key: []byte("SPY"), Value: []byte(`{}`)}
	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, hookErrs)
	out := dlq.written()
	require.Len(t, out, 1)
	assert.Equal(t, []byte("SPY"), out[0].Key)
	assert.Equal(t, "t", HeaderValue(out[0], "source_topic"))
	assert.Equal(t, "7", HeaderValue(out[0], "source_offset"))
	assert.Equal(t, "bad symbol", HeaderValue(out[0], "error"))
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	f := newFakeFetcher()
	h := funcHandler{topic: "t", fn: func(b []byte) error {
		if string(b) == "boom" {
			panic("nil snapshot")
		}
		return nil
	}}
	startTestConsumer(t, f, h)

	f.msgs <- kafka.Message{Topic: "t", Offset: 0, Value: []byte("boom")}
	f.msgs <- kafka.Message{Topic: "t", Offset: 1, Value: []byte("fine")}
	require.Eventually(t, func() bool { return len(f.commits()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestConsumerConfigErrors(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)

	c, err := NewConsumer(WithConsumerBrokers([]string{"b:9092"}))
	require.NoError(t, err)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestLaneForIsStable(t *testing.T) {
	for p := 0; p < 16; p++ {
		l := laneFor("features.build", p, 3)
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
		assert.Equal(t, l, laneFor("features.build", p, 3))
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
	d := backoffWithJitter(0, 0, 1)
	assert.GreaterOrEqual(t, d, 25*time.Millisecond)
	assert.LessOrEqual(t, d, 50*time.Millisecond)
}

func TestDeadLetterLeavesSourceHeadersUntouched(t *testing.T) {
	dlq := &fakeWriter{}
	c, err := NewConsumer(WithConsumerBrokers([]string{"broker:9092"}))
	require.NoError(t, err)
	c.dlq = dlq

	backing := make([]kafka.Header, 1, 8)
	backing[0] = kafka.Header{Key: "trace_id", Value: []byte("abc")}
	msg := kafka.Message{Topic: "t", Offset: 3, Key: []byte("SPY"), Headers: backing}

	c.deadLetter(context.Background(), msg, errors.New("bad symbol"))

	require.Len(t, msg.Headers, 1)
	spare := backing[:cap(backing)]
	for _, h := range spare[1:] {
		assert.Empty(t, h.Key, "source header backing array was written")
	}

	out := dlq.written()
	require.Len(t, out, 1)
	assert.Equal(t, "abc", HeaderValue(out[0], "trace_id"))
	assert.Equal(t, "3", HeaderValue(out[0], "source_offset"))
	assert.Len(t, out[0].Headers, 5)
}
