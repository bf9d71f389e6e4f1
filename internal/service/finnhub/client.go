package finnhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
	"FinFeat/internal/service/ratelimit"
	pkghttp "FinFeat/pkg/http"
	applogger "FinFeat/pkg/logger"
)

const (
	statusOK     = "ok"
	statusNoData = "no_data"
	limiterKey   = "finnhub"
	maxAttempts  = 3
)

// Config configures the REST client.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Burst             float64
}

// Client fetches daily candles from the Finnhub REST API. Requests are paced
// by a shared token bucket so batch collection stays under the plan quota.
type Client struct {
	cfg     Config
	hc      *pkghttp.Client
	limiter *ratelimit.Limiter
	l       *applogger.Logger
	backoff time.Duration
}

var _ drepo.MarketData = (*Client)(nil)

// New creates a Finnhub client.
func New(cfg Config, hc *pkghttp.Client, limiter *ratelimit.Limiter, l *applogger.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if l == nil {
		l = applogger.Nop()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &Client{cfg: cfg, hc: hc, limiter: limiter, l: l, backoff: time.Second}
}

type candleResponse struct {
	Close  []float64 `json:"c"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Open   []float64 `json:"o"`
	Time   []int64   `json:"t"`
	Volume []float64 `json:"v"`
	Status string    `json:"s"`
}

// FetchDailyBars returns the daily sessions in [from, to), oldest first.
// A symbol with no sessions in range yields ErrSymbolNotFound.
func (c *Client) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("finnhub: api key is not configured")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("finnhub: empty range %s..%s", from.Format(models.DateLayout), to.Format(models.DateLayout))
	}

	req := pkghttp.Request{
		URL: c.cfg.BaseURL + "/stock/candle",
		Query: url.Values{
			"symbol":     {symbol},
			"resolution": {"D"},
			"from":       {strconv.FormatInt(from.Unix(), 10)},
			"to":         {strconv.FormatInt(to.Unix()-1, 10)},
		},
		Header: http.Header{"X-Finnhub-Token": {c.cfg.APIKey}},
	}

	var resp candleResponse
	if err := c.do(ctx, symbol, req, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case statusOK:
	case statusNoData:
		return nil, fmt.Errorf("finnhub %s: %w", symbol, drepo.ErrSymbolNotFound)
	default:
		return nil, fmt.Errorf("finnhub %s: unexpected status %q", symbol, resp.Status)
	}

	bars, err := resp.bars(from, to)
	if err != nil {
		return nil, fmt.Errorf("finnhub %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("finnhub %s: %w", symbol, drepo.ErrSymbolNotFound)
	}
	c.l.Debug("finnhub candles fetched", applogger.String("symbol", symbol), applogger.Int("rows", len(bars)))
	return bars, nil
}

func (c *Client) do(ctx context.Context, symbol string, req pkghttp.Request, dest *candleResponse) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := c.limiter.Wait(ctx, limiterKey, c.cfg.Burst, c.cfg.RequestsPerSecond); werr != nil {
			return werr
		}
		err = c.hc.Do(ctx, req, dest)
		if err == nil {
			return nil
		}
		var se *pkghttp.StatusError
		if !errors.As(err, &se) || !se.Retryable() || attempt == maxAttempts {
			break
		}
		c.l.Warn("finnhub request retry",
			applogger.String("symbol", symbol),
			applogger.Int("status", se.Code),
			applogger.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("finnhub %s: %w", symbol, err)
}

// bars converts the column arrays to sessions in [from, to), sorted and
// deduplicated by session date.
func (r candleResponse) bars(from, to time.Time) ([]models.Bar, error) {
	n := len(r.Time)
	if len(r.Close) != n || len(r.Open) != n || len(r.High) != n || len(r.Low) != n || len(r.Volume) != n {
		return nil, fmt.Errorf("ragged candle arrays: t=%d c=%d o=%d h=%d l=%d v=%d",
			n, len(r.Close), len(r.Open), len(r.High), len(r.Low), len(r.Volume))
	}
	out := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		d := models.SessionDate(time.Unix(r.Time[i], 0))
		if !models.InRange(d, from, to) {
			continue
		}
		b := models.Bar{Date: d, Open: r.Open[i], High: r.High[i], Low: r.Low[i], Close: r.Close[i], Volume: r.Volume[i]}
		if len(out) > 0 {
			last := out[len(out)-1].Date
			if d.Equal(last) {
				out[len(out)-1] = b
				continue
			}
			if d.Before(last) {
				return nil, fmt.Errorf("candles out of order at %s", d.Format(models.DateLayout))
			}
		}
		out = append(out, b)
	}
	return out, nil
}
