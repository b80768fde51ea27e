package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/infra/logger"
)

// InfluxSink writes respacing results to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordRespace writes one respace_event point per parameter and pair.
func (s *InfluxSink) RecordRespace(events []coremetrics.RespaceEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(events))
	for _, ev := range events {
		points = append(points, respacePoint(ev))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func respacePoint(ev coremetrics.RespaceEvent) *write.Point {
	diags := 0
	for _, n := range ev.Diagnostics {
		diags += n
	}
	return write.NewPointWithMeasurement("respace_event").
		AddTag("run_id", ev.RunID).
		AddTag("param", ev.Param).
		AddTag("kind", ev.Kind).
		AddTag("node", ev.Node).
		AddTag("technology", ev.Technology).
		AddTag("outcome", string(ev.Outcome)).
		AddField("added", ev.Added).
		AddField("removed", ev.Removed).
		AddField("passes", ev.Passes).
		AddField("diagnostics", diags).
		SetTime(ev.Time)
}

// RecordValidation writes a validation_event point.
func (s *InfluxSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("validation_event").
		AddTag("run_id", ev.RunID).
		AddTag("param", ev.Param).
		AddTag("node", ev.Node).
		AddTag("technology", ev.Technology).
		AddField("missing", ev.Missing).
		AddField("extra", ev.Extra).
		AddField("remaining_missing", ev.RemainingMissing).
		AddField("remaining_extra", ev.RemainingExtra).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRun writes a run_summary point.
func (s *InfluxSink) RecordRun(ev coremetrics.RunEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("run_summary").
		AddTag("run_id", ev.RunID).
		AddTag("technology", ev.Technology)
	if ev.CommitID != "" {
		p = p.AddTag("commit_id", ev.CommitID)
	}
	p = p.AddField("nodes", ev.Nodes).
		AddField("skipped", ev.Skipped).
		AddField("failed", ev.Failed).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
