package clickhouse

import (
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

type ClientConfig struct {
	Addr     string
	Database string
	User     string
	Password string
	UseHTTP  bool
	Compress bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// Settings are sent with every query.
	Settings clickhouse.Settings
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:            "localhost:9000",
		Database:        "default",
		User:            "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
		Settings:        clickhouse.Settings{},
	}
}

func (c ClientConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr:            []string{c.Addr},
		Auth:            clickhouse.Auth{Database: c.Database, Username: c.User, Password: c.Password},
		Protocol:        clickhouse.Native,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Settings:        c.Settings,
	}
	if c.UseHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if c.Compress {
		method := clickhouse.CompressionLZ4
		if c.UseHTTP {
			method = clickhouse.CompressionGZIP
		}
		opts.Compression = &clickhouse.Compression{Method: method}
	}
	return opts
}

func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) { c.Addr = net.JoinHostPort(host, strconv.Itoa(port)) }
}

func WithAuth(database, user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.Database = database
		c.User = user
		c.Password = password
	}
}

func WithPool(maxOpen, maxIdle int, lifetime time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithCompression compresses blocks: LZ4 over native, gzip over HTTP.
func WithCompression(on bool) ClientOption {
	return func(c *ClientConfig) { c.Compress = on }
}

// WithAsyncInsert lets the server buffer inserts; wait makes the insert
// return only after the buffer is flushed.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) {
		if !enabled {
			delete(c.Settings, "async_insert")
			delete(c.Settings, "wait_for_async_insert")
			return
		}
		c.Settings["async_insert"] = 1
		c.Settings["wait_for_async_insert"] = boolInt(wait)
	}
}

// WithMaxExecutionTime caps server-side query time, in whole seconds.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if s := int(d / time.Second); s > 0 {
			c.Settings["max_execution_time"] = s
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
