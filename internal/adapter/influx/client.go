package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"timetagger-sensors/internal/config"
	"timetagger-sensors/internal/ports"
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000

	// Measurement is the InfluxDB measurement sensor values are written to.
	Measurement = "timetagger_sensor"
)

var (
	ErrNotConnected     = errors.New("influx: not connected")
	ErrConnectionFailed = errors.New("influx: connection failed")
)

// Client writes sensor states to InfluxDB as history. Writes are non-blocking
// and batched; write errors are logged asynchronously.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect pings the server and prepares the batched write API.
func Connect(cfg config.InfluxDBConfig, log *slog.Logger) (*Client, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values checked positive above
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		log:       log,
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	log.Info("influxdb connected", slog.String("url", cfg.URL), slog.String("bucket", cfg.Bucket))
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.log.Warn("influxdb write failed", slog.String("error", err.Error()))
	}
}

// statePoint converts an entity state into a point of Measurement.
func statePoint(st ports.EntityState) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"entry_id":  st.EntryID,
			"unique_id": st.UniqueID,
		},
		map[string]interface{}{
			"value": st.Value,
		},
		st.UpdatedAt,
	)
}

// PublishStates queues one point per available state. Unavailable states are
// skipped so gaps show up as gaps.
func (c *Client) PublishStates(_ context.Context, states []ports.EntityState) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	for _, st := range states {
		if !st.Available {
			continue
		}
		c.writeAPI.WritePoint(statePoint(st))
	}
	return nil
}

// RemoveEntry keeps history of removed entries.
func (c *Client) RemoveEntry(context.Context, string) error { return nil }

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
