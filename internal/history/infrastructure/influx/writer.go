package influx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"pvhistory/internal/history/domain/record"
)

const defaultBatchSize = 5000

// Writer stores records in an InfluxDB v2 bucket with second precision.
type Writer struct {
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	batchSize int
}

type writerOptions struct {
	batchSize  int
	httpClient *http.Client
}

// WriterOption configures the writer.
type WriterOption func(*writerOptions)

// WithBatchSize overrides the number of points per request.
func WithBatchSize(n int) WriterOption {
	return func(o *writerOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) WriterOption {
	return func(o *writerOptions) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}

// NewWriter constructs a writer.
func NewWriter(baseURL, org, bucket, token string, opts ...WriterOption) (*Writer, error) {
	if baseURL == "" {
		return nil, errors.New("influx writer: empty url")
	}
	if bucket == "" {
		return nil, errors.New("influx writer: empty bucket")
	}
	o := writerOptions{
		batchSize:  defaultBatchSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	options := influxdb2.DefaultOptions().
		SetPrecision(time.Second).
		SetBatchSize(uint(o.batchSize)).
		SetHTTPClient(o.httpClient)
	client := influxdb2.NewClientWithOptions(baseURL, token, options)
	return &Writer{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(org, bucket),
		batchSize: o.batchSize,
	}, nil
}

// Write validates every record, then writes them in batches.
func (w *Writer) Write(ctx context.Context, records []record.Record) error {
	if w == nil {
		return errors.New("influx writer: nil")
	}
	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		p, err := Point(rec)
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	for start := 0; start < len(points); start += w.batchSize {
		end := start + w.batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := w.writeAPI.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("influx writer: %w", err)
		}
	}
	return nil
}

// Close releases the client's idle connections.
func (w *Writer) Close() {
	w.client.Close()
}

// Point converts a record into a line protocol point. Integer records carry
// an int64 field, float records a float64 field.
func Point(rec record.Record) (*write.Point, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	var value interface{} = rec.Value
	if rec.Kind == record.Integer {
		value = rec.IntValue()
	}
	return write.NewPoint(rec.Measurement, rec.Tags, map[string]interface{}{rec.Field: value}, rec.At), nil
}
