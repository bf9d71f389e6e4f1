package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	"FinFeat/pkg/util"
)

var validate = validator.New()

// ErrBufferFull is returned when a failed request cannot be parked for retry.
var ErrBufferFull = errors.New("rebuild buffer full")

// Proc is the minimal processor interface the throttle needs.
type Proc interface {
	Process(ctx context.Context, req models.BuildRequest) error
}

type pending struct {
	req      models.BuildRequest
	attempts int
}

// RebuildThrottle sits between the build-request topic and the batch runner.
// It validates requests, drops symbols rebuilt within the debounce window
// (unless Refresh is set), and parks failed requests in a bounded buffer that
// a background loop retries with backoff.
type RebuildThrottle struct {
	proc        Proc
	metrics     domrepo.Metrics
	debounce    time.Duration
	bufSize     int
	maxAttempts int
	bufCh       chan pending
	stopCh      chan struct{}
	doneCh      chan struct{}
	started     bool
	mu          sync.Mutex
	lastSeen    map[string]time.Time
	now         func() time.Time
	backoffMin  time.Duration
	backoffMax  time.Duration
}

type ThrottleOption func(*RebuildThrottle)

// WithDebounce sets the per-symbol quiet period. Zero disables debouncing.
func WithDebounce(d time.Duration) ThrottleOption {
	return func(p *RebuildThrottle) {
		if d >= 0 {
			p.debounce = d
		}
	}
}

// WithBufferSize sets how many failed requests are kept for retry.
func WithBufferSize(n int) ThrottleOption {
	return func(p *RebuildThrottle) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxAttempts bounds retries of a parked request.
func WithMaxAttempts(n int) ThrottleOption {
	return func(p *RebuildThrottle) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the retry loop's backoff range.
func WithRetryBackoff(min, max time.Duration) ThrottleOption {
	return func(p *RebuildThrottle) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

func NewRebuildThrottle(proc Proc, metrics domrepo.Metrics, opts ...ThrottleOption) *RebuildThrottle {
	p := &RebuildThrottle{
		proc:        proc,
		metrics:     metrics,
		debounce:    time.Minute,
		bufSize:     100,
		maxAttempts: 5,
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
		backoffMin:  100 * time.Millisecond,
		backoffMax:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan pending, p.bufSize)
	return p
}

// Start launches the retry loop. A stopped throttle may be started again.
func (p *RebuildThrottle) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.retryLoop(ctx, stop, done)
}

func (p *RebuildThrottle) retryLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	backoff := p.backoffMin
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case item := <-p.bufCh:
			item.attempts++
			if err := p.proc.Process(ctx, item.req); err == nil {
				backoff = p.backoffMin
				continue
			}
			p.metrics.RecordError("rebuild_retry")
			if item.attempts >= p.maxAttempts {
				p.metrics.RecordError("rebuild_dropped")
				continue
			}
			select {
			case p.bufCh <- item:
			default:
				p.metrics.RecordError("rebuild_dropped")
			}
			select {
			case <-time.After(backoff):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > p.backoffMax {
				backoff = p.backoffMax
			}
		}
	}
}

// Stop stops the retry loop. Parked requests are discarded.
func (p *RebuildThrottle) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()
	close(stop)
	<-done
}

// Pending returns how many requests wait for retry.
func (p *RebuildThrottle) Pending() int { return len(p.bufCh) }

// Process validates, debounces, and forwards req. A downstream failure is
// parked for retry and reported as success; only a full buffer is an error,
// so the caller's own redelivery takes over.
func (p *RebuildThrottle) Process(ctx context.Context, req models.BuildRequest) error {
	start := p.now()
	req.Symbols = util.NormalizeSymbols(req.Symbols)
	if err := validate.Struct(req); err != nil {
		p.metrics.RecordError("rebuild_validate")
		return fmt.Errorf("rebuild request: %w", err)
	}

	req.Symbols = p.admit(req.Symbols, req.Refresh, start)
	if len(req.Symbols) == 0 {
		p.metrics.RecordError("rebuild_debounced")
		return nil
	}

	if err := p.proc.Process(ctx, req); err != nil {
		p.metrics.RecordError("rebuild_process")
		select {
		case p.bufCh <- pending{req: req}:
			return nil
		default:
			p.metrics.RecordError("rebuild_buffer_full")
			return fmt.Errorf("%w: %v", ErrBufferFull, err)
		}
	}
	p.metrics.RecordLatency("rebuild_process", p.now().Sub(start).Seconds())
	return nil
}

// admit keeps symbols outside their debounce window and marks them seen.
func (p *RebuildThrottle) admit(symbols []string, refresh bool, now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := symbols[:0]
	for _, s := range symbols {
		last, seen := p.lastSeen[s]
		if !refresh && p.debounce > 0 && seen && now.Sub(last) < p.debounce {
			continue
		}
		p.lastSeen[s] = now
		kept = append(kept, s)
	}
	return kept
}
