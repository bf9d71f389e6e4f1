package logger

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"
)

type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	Service        string        // reported with every batch
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force a flush, default 100
	Topic          string
	Publisher      Publisher
	// OnPublishError observes failed sends. Defaults to a line on stderr.
	OnPublishError func(error)
}

// AggregatedLogBatch is the payload published on every flush.
type AggregatedLogBatch struct {
	Service string               `json:"service"`
	SentAt  time.Time            `json:"sent_at"`
	Entries []AggregatedLogEntry `json:"entries"`
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds identical log events into counted entries and ships
// them in batches, either periodically or once enough distinct events pile up.
type LogCollector struct {
	cfg     CollectionConfig
	now     func() time.Time
	publish time.Duration

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	order   []uint64
	closed  bool

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		now:     time.Now,
		publish: 30 * time.Second,
		entries: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.OnPublishError == nil {
		c.cfg.OnPublishError = func(err error) {
			_, _ = os.Stderr.WriteString("log collector: publish failed: " + err.Error() + "\n")
		}
	}

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	key := fingerprint(level, message, fields, caller)
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		c.mu.Unlock()
		return
	}
	c.entries[key] = &AggregatedLogEntry{
		Level: level, Message: message, Fields: fields, Caller: caller,
		Count: 1, FirstSeen: now, LastSeen: now,
	}
	c.order = append(c.order, key)
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if batch != nil {
		go func() {
			defer c.wg.Done()
			c.send(batch)
		}()
	}
}

// fingerprint identifies events that differ only in time.
func fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	for _, s := range []string{level, message, caller} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	// map keys marshal sorted, so equal field sets hash equally
	if data, err := json.Marshal(fields); err == nil {
		_, _ = h.Write(data)
	} else {
		_, _ = h.Write([]byte(strconv.Itoa(len(fields))))
	}
	return h.Sum64()
}

func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.order) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.entries[k])
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	c.order = c.order[:0]
	return out
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if batch != nil {
		c.send(batch)
	}
}

func (c *LogCollector) send(entries []AggregatedLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), c.publish)
	defer cancel()
	batch := AggregatedLogBatch{Service: c.cfg.Service, SentAt: c.now().UTC(), Entries: entries}
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		c.cfg.OnPublishError(err)
	}
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

// Close sends whatever is pending and waits for in-flight batches.
func (c *LogCollector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)
	})
	c.wg.Wait()
}
