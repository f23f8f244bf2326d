// Package telemetry records metrics for outbound requests.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/and161185/fitpanda"

	RequestsMetric = "fitpanda.http.requests"
	DurationMetric = "fitpanda.http.duration"
)

var (
	attrOp          = attribute.Key("op")
	attrStatusClass = attribute.Key("status_class")
	attrError       = attribute.Key("error")
)

// Meter is the subset of metric.Meter the recorder needs.
type Meter interface {
	Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(name string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}

// Recorder counts requests and their latency. A nil *Recorder is a no-op.
type Recorder struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New registers the instruments on m, or on the global meter when m is nil.
func New(m Meter) (*Recorder, error) {
	if m == nil {
		m = otel.Meter(meterName)
	}
	requests, err := m.Int64Counter(RequestsMetric, metric.WithDescription("Outbound HTTP requests."))
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram(DurationMetric,
		metric.WithDescription("Outbound HTTP request latency."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Recorder{requests: requests, duration: duration}, nil
}

// Request records one finished request. status is 0 when no response arrived.
func (r *Recorder) Request(ctx context.Context, op string, status int, d time.Duration, err error) {
	if r == nil {
		return
	}
	set := metric.WithAttributes(
		attrOp.String(op),
		attrStatusClass.String(StatusClass(status)),
		attrError.Bool(err != nil),
	)
	r.requests.Add(ctx, 1, set)
	r.duration.Record(ctx, float64(d.Microseconds())/1000, set)
}

// StatusClass buckets a status code as "2xx", "4xx" and so on; 0 is "none".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}
