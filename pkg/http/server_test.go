package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return DataResponse(c, http.StatusOK, "pong") })
}

func TestServerServesRoutesAndMetrics(t *testing.T) {
	s := NewServer(pingHandler{}, WithRegistry(prometheus.NewRegistry()), WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.ListenAddr() + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.ListenAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `finfeat_http_requests_total{method="GET",route="/ping",status="200"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServerCORSDisabled(t *testing.T) {
	s := NewServer(pingHandler{}, WithRegistry(prometheus.NewRegistry()), WithCORSOrigins([]string{"-"}))
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServerStartReportsBindError(t *testing.T) {
	first := NewServer(nil, WithRegistry(prometheus.NewRegistry()), WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop(context.Background()) }()

	_, port, _ := net.SplitHostPort(first.ListenAddr())
	p, _ := strconv.Atoi(port)
	second := NewServer(nil, WithRegistry(prometheus.NewRegistry()), WithHost("127.0.0.1"), WithPort(p))
	assert.ErrorContains(t, second.Start(), "http listen")
}

type drainingHandler struct {
	pingHandler
	drained chan struct{}
}

func (d drainingHandler) Drain(ctx context.Context) error {
	close(d.drained)
	return nil
}

func TestServerStopDrainsHandler(t *testing.T) {
	h := drainingHandler{drained: make(chan struct{})}
	s := NewServer(h, WithRegistry(prometheus.NewRegistry()), WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case <-h.drained:
	default:
		t.Fatal("handler was not drained on stop")
	}
}
