// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package export pushes interception counters to an OTLP collector over
// gRPC. Export is optional and off by default; the runtime never blocks
// an intercepted call on the exporter.
package export

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/aubo-project/aubogo/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// Metric is one cumulative counter sample.
type Metric struct {
	Name        string
	Description string
	Unit        string
	Value       float64
	Labels      map[string]string
	StartTime   time.Time
	Timestamp   time.Time
}

// OTLPExporter sends metrics via OTLP gRPC with automatic reconnection.
type OTLPExporter struct {
	logger      *zap.Logger
	serviceName string
	endpoint    string
	opts        []grpc.DialOption

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	metricSvc colmetricspb.MetricsServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC metrics exporter.
func NewOTLPExporter(cfg *config.OTLPConfig, serviceName string, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	e := &OTLPExporter{
		logger:      logger,
		serviceName: serviceName,
		endpoint:    cfg.Endpoint,
		opts:        opts,
	}

	if err := e.connect(); err != nil {
		return nil, err
	}

	return e, nil
}

// connect establishes or re-establishes the gRPC connection.
func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}

	e.conn = conn
	e.metricSvc = colmetricspb.NewMetricsServiceClient(conn)

	return nil
}

// ensureConnected checks connection health and reconnects if needed.
func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}

	switch conn.GetState() {
	case connectivity.Ready, connectivity.Idle:
		return nil
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

// reconnect closes the old connection and creates a new one.
func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check under write lock
	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))

	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}

	e.logger.Info("reconnected to OTLP endpoint")
	return nil
}

// resource returns the OTEL resource attributes for this process.
func (e *OTLPExporter) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	pid := os.Getpid()

	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
		strAttr("service.name", e.serviceName),
		strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, pid)),
		strAttr("telemetry.sdk.name", "aubogo"),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", "0.1.0"),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(pid)),
	}}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

// ExportMetrics sends counter samples via OTLP gRPC.
func (e *OTLPExporter) ExportMetrics(ctx context.Context, metrics []*Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	protoMetrics := make([]*metricspb.Metric, 0, len(metrics))
	for _, m := range metrics {
		protoMetrics = append(protoMetrics, convertMetric(m))
	}

	req := &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: e.resource(),
				ScopeMetrics: []*metricspb.ScopeMetrics{
					{
						Scope: &commonpb.InstrumentationScope{
							Name:    "aubogo",
							Version: "0.1.0",
						},
						Metrics: protoMetrics,
					},
				},
			},
		},
	}

	e.mu.RLock()
	svc := e.metricSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, req)
	return err
}

// convertMetric renders a counter as a monotonic cumulative sum.
func convertMetric(m *Metric) *metricspb.Metric {
	attrs := make([]*commonpb.KeyValue, 0, len(m.Labels))
	for k, v := range m.Labels {
		attrs = append(attrs, strAttr(k, v))
	}

	var startTs uint64
	if !m.StartTime.IsZero() {
		startTs = uint64(m.StartTime.UnixNano())
	}

	return &metricspb.Metric{
		Name:        m.Name,
		Description: m.Description,
		Unit:        m.Unit,
		Data: &metricspb.Metric_Sum{
			Sum: &metricspb.Sum{
				IsMonotonic:            true,
				AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
				DataPoints: []*metricspb.NumberDataPoint{
					{
						StartTimeUnixNano: startTs,
						TimeUnixNano:      uint64(m.Timestamp.UnixNano()),
						Value:             &metricspb.NumberDataPoint_AsDouble{AsDouble: m.Value},
						Attributes:        attrs,
					},
				},
			},
		},
	}
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
