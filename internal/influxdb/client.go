// Package influxdb stores received telemetry records in InfluxDB.
//
// Each record becomes one point of the ble_telemetry measurement, tagged
// with device_id, topic and kind (notification, advertisement,
// connection_status or raw) plus the BLE identifiers of that kind. The
// payload is stored hex-encoded in the data field. Points are timestamped
// with the record's own time when it has one.
//
// Writes go through the non-blocking write API: points are buffered and
// sent in batches of influxdb.batch_size or every influxdb.flush_interval
// seconds, whichever comes first.
package influxdb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tiedie-sdk/internal/config"
	"tiedie-sdk/pkg/telemetry"
)

// Errors returned by Connect.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000

	measurement = "ble_telemetry"
)

// Client writes telemetry records as points. Writes are batched and
// non-blocking; failures are reported through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect creates a client and verifies the server answers a ping within
// ten seconds. It returns ErrDisabled when cfg.Enabled is false and
// ErrConnectionFailed when the ping fails. Non-positive batch sizes and
// flush intervals fall back to 100 points and 10 seconds.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values checked positive above
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
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
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// handleWriteErrors forwards write API failures to the SetOnError callback
// until the write API closes its error channel.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures. The
// callback runs on a background goroutine and may be called concurrently
// with WriteRecord.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// WriteRecord queues one record. It never blocks on the network and is a
// no-op after Close.
func (c *Client) WriteRecord(topic string, record telemetry.Record) {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return
	}

	c.writeAPI.WritePoint(recordPoint(topic, record, time.Now()))
}

// recordPoint maps a record to a point. The record's own timestamp wins
// over now.
func recordPoint(topic string, record telemetry.Record, now time.Time) *write.Point {
	tags := map[string]string{
		"device_id": record.DeviceID,
		"topic":     topic,
	}
	fields := map[string]interface{}{
		"data": hex.EncodeToString(record.Data),
	}

	switch {
	case record.BLESubscription != nil:
		tags["kind"] = "notification"
		tags["service_id"] = record.BLESubscription.ServiceID
		tags["characteristic_id"] = record.BLESubscription.CharacteristicID
	case record.BLEAdvertisement != nil:
		tags["kind"] = "advertisement"
		tags["mac_address"] = record.BLEAdvertisement.MACAddress
		fields["rssi"] = record.BLEAdvertisement.RSSI
	case record.BLEConnectionStatus != nil:
		tags["kind"] = "connection_status"
		tags["mac_address"] = record.BLEConnectionStatus.MACAddress
		fields["connected"] = record.BLEConnectionStatus.Connected
		if record.BLEConnectionStatus.Reason != nil {
			fields["reason"] = *record.BLEConnectionStatus.Reason
		}
	default:
		tags["kind"] = "raw"
	}

	ts := record.Time()
	if ts.IsZero() {
		ts = now
	}

	return write.NewPoint(measurement, tags, fields, ts)
}

// Flush sends all buffered points now instead of waiting for the batch to
// fill or the flush interval to pass. It blocks until the write completes
// and is a no-op after Close.
func (c *Client) Flush() {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return
	}

	c.writeAPI.Flush()
}

// Close flushes pending points and closes the client. Closing twice is
// safe.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
}
