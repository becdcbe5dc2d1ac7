package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned by Connect when the server does not answer a ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)

// Write batching defaults, used when the configuration leaves them unset.
const (
	defaultBatchSize     = 20
	defaultFlushInterval = 5 * time.Second

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Client writes run summaries to InfluxDB.
//
// Points go through the library's non-blocking write API: a finished run
// never waits on the network. Failed batches are reported through the
// SetOnError callback and counted in Stats.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed    atomic.Bool
	summaries atomic.Int64
	failures  atomic.Int64

	mu      sync.RWMutex
	onError func(err error)
}

// Stats counts what the client has handed to the write API.
type Stats struct {
	Connected     bool   `json:"connected"`
	Bucket        string `json:"bucket,omitempty"`
	Summaries     int64  `json:"summaries"`
	WriteFailures int64  `json:"write_failures"`
}

// Connect pings the configured server and prepares the batched write API
// for cfg.Org and cfg.Bucket.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batching settings onto client options. Run
// summaries are few, so batches are small and flushed often.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // Positive by construction
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return errors.New("server not ready")
	}
	return nil
}

// forwardErrors drains the write API's error channel until the client closes.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for failed asynchronous writes.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// IsConnected reports whether the client is open. It does not ping; use
// HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush blocks until pending points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Stats returns write counters for the metrics endpoint.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:     c.IsConnected(),
		Bucket:        c.bucket,
		Summaries:     c.summaries.Load(),
		WriteFailures: c.failures.Load(),
	}
}

// Close flushes pending points and releases the client. It is safe to call
// more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
