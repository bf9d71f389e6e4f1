package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"FinFeat/pkg/logger"
)

// MessageHandler consumes one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Workers    int // lanes; each (topic, partition) always maps to the same lane
	LaneBuffer int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
	MinBytes   int
	MaxBytes   int
}

type ConsumerOption func(*Consumer)

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *Consumer) { c.cfg.Brokers = brokers }
}

func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *Consumer) {
		if id != "" {
			c.cfg.GroupID = id
		}
	}
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.cfg.Workers = n
		}
	}
}

// WithConsumerBufferSize sets how many fetched messages may wait per lane.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.cfg.LaneBuffer = n
		}
	}
}

// WithConsumerRetry sets in-process retries per message and their backoff.
func WithConsumerRetry(max int, min, maxBackoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.cfg.RetryMax = max
		if min > 0 {
			c.cfg.BackoffMin = min
		}
		if maxBackoff >= c.cfg.BackoffMin {
			c.cfg.BackoffMax = maxBackoff
		}
	}
}

// WithConsumerDLQ copies messages that exhaust their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *Consumer) { c.cfg.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *Consumer) {
		if minBytes > 0 {
			c.cfg.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.cfg.MaxBytes = maxBytes
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithConsumerHook installs lifecycle hooks; combine several with NewHookChain.
func WithConsumerHook(h ConsumerHook) ConsumerOption {
	return func(c *Consumer) {
		if h != nil {
			c.hook = h
		}
	}
}

// WithConsumerRegisterer exports lane depth and handling metrics to reg.
func WithConsumerRegisterer(reg prometheus.Registerer) ConsumerOption {
	return func(c *Consumer) { c.reg = reg }
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads registered topics in a consumer group. Messages of one
// partition are handled in order on a single lane; offsets are committed only
// after the handler succeeds or the message is dead-lettered.
type Consumer struct {
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	hook     ConsumerHook
	log      *logger.Logger
	reg      prometheus.Registerer
	metrics  *consumerMetrics

	newFetcher func(topic string) fetcher
	fetchers   map[string]fetcher
	dlq        messageWriter

	lanes    []chan kafka.Message
	cancel   context.CancelFunc
	fetchWG  sync.WaitGroup
	laneWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		cfg: ConsumerConfig{
			GroupID:    "finfeat",
			Workers:    1,
			LaneBuffer: 16,
			RetryMax:   3,
			BackoffMin: 50 * time.Millisecond,
			BackoffMax: 2 * time.Second,
			MinBytes:   1,
			MaxBytes:   10e6,
		},
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		log:      logger.Nop(),
		fetchers: make(map[string]fetcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}

	c.newFetcher = func(topic string) fetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			GroupID:  c.cfg.GroupID,
			Topic:    topic,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}
	if c.cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(c.cfg.Brokers...),
			Topic:        c.cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	c.metrics = newConsumerMetrics(c.reg)
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("kafka consumer: handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	// fetchers is read by lanes during commit; fill it before any goroutine starts
	for topic := range c.handlers {
		c.fetchers[topic] = c.newFetcher(topic)
	}
	c.lanes = make([]chan kafka.Message, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan kafka.Message, c.cfg.LaneBuffer)
		c.laneWG.Add(1)
		go c.runLane(ctx, i)
	}
	for topic, f := range c.fetchers {
		c.fetchWG.Add(1)
		go c.fetch(ctx, topic, f)
	}
	c.log.Info("kafka consumer: started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.handlers)),
		logger.Int("lanes", c.cfg.Workers),
	)
	return nil
}

// Stop stops fetching, lets lanes finish the message in hand, then closes
// readers. Messages still buffered are left uncommitted for redelivery.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		c.fetchWG.Wait()
		for _, lane := range c.lanes {
			close(lane)
		}

		done := make(chan struct{})
		go func() {
			c.laneWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}

		var errs []error
		for topic, f := range c.fetchers {
			if cerr := f.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close reader %s: %w", topic, cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close dlq writer: %w", cerr))
			}
		}
		err = errors.Join(append([]error{err}, errs...)...)
		c.log.Info("kafka consumer: stopped")
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, topic string, f fetcher) {
	defer c.fetchWG.Done()
	failures := 0
	for {
		msg, err := f.FetchMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			c.log.Warn("kafka consumer: fetch", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		lane := c.lanes[laneFor(msg.Topic, msg.Partition, len(c.lanes))]
		select {
		case lane <- msg:
			c.metrics.depth(topic, len(lane))
		case <-ctx.Done():
			return
		}
	}
}

func laneFor(topic string, partition, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(lanes))
}

func (c *Consumer) runLane(ctx context.Context, i int) {
	defer c.laneWG.Done()
	for msg := range c.lanes[i] {
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	if ctx.Err() != nil {
		return
	}
	h := c.handlers[msg.Topic]
	if h == nil {
		c.log.Error("kafka consumer: no handler", logger.String("topic", msg.Topic))
		return
	}

	start := time.Now()
	attempts, err := c.handleWithRetry(ctx, h, msg)
	c.metrics.handled(msg.Topic, time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("kafka consumer: giving up on message",
			logger.String("topic", msg.Topic),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		c.deadLetter(ctx, msg, err)
	}
	c.commit(ctx, msg)
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, msg kafka.Message) (int, error) {
	for attempt := 1; ; attempt++ {
		hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, msg.Topic, msg, msg.Value)
		if err != nil {
			hctx, hmsg, data = ctx, msg, msg.Value
		} else {
			err = callHandler(hctx, h, data)
			c.hook.AfterHandle(hctx, msg.Topic, hmsg, data, err)
		}
		if err == nil {
			return attempt, nil
		}
		c.hook.OnError(hctx, msg.Topic, hmsg, data, err)
		if attempt > c.cfg.RetryMax {
			return attempt, err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

func callHandler(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

// deadLetter keeps the original key so replays land on the same partition.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	hdrs := append(make([]kafka.Header, 0, len(msg.Headers)+4), msg.Headers...)
	hdrs = append(hdrs,
		kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	err := c.dlq.WriteMessages(wctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now().UTC(),
		Headers: hdrs,
	})
	if err != nil {
		c.log.Error("kafka consumer: dead-letter write", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	f := c.fetchers[msg.Topic]
	if f == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(base, 2*time.Second)
		err = f.CommitMessages(cctx, msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit offset",
		logger.String("topic", msg.Topic),
		logger.Int64("offset", msg.Offset),
		logger.Error(err),
	)
}

// backoffWithJitter doubles min per attempt up to max, then subtracts up to
// half of it at random so retrying consumers spread out.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int64N(half))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type consumerMetrics struct {
	laneDepth *prometheus.GaugeVec
	handle    *prometheus.HistogramVec
	outcomes  *prometheus.CounterVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &consumerMetrics{
		laneDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finfeat_kafka_consumer_lane_depth",
			Help: "Messages waiting in the lane that received the last fetch",
		}, []string{"topic"}),
		handle: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finfeat_kafka_consumer_handle_seconds",
			Help:    "Time to handle a message including retries",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"topic"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfeat_kafka_consumer_messages_total",
			Help: "Handled messages by outcome",
		}, []string{"topic", "outcome"}),
	}
}

func (m *consumerMetrics) depth(topic string, n int) {
	if m != nil {
		m.laneDepth.WithLabelValues(topic).Set(float64(n))
	}
}

func (m *consumerMetrics) handled(topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.handle.WithLabelValues(topic).Observe(d.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.outcomes.WithLabelValues(topic, outcome).Inc()
}
