// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"testing"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

func TestConvertMetricCumulativeSum(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	now := time.Now()

	m := &Metric{
		Name:        "aubo.requests.blocked",
		Description: "Blocked requests",
		Unit:        "{request}",
		Value:       42,
		Labels:      map[string]string{"process": "com.example.app"},
		StartTime:   start,
		Timestamp:   now,
	}

	pm := convertMetric(m)
	if pm.Name != "aubo.requests.blocked" {
		t.Errorf("expected metric name preserved, got %q", pm.Name)
	}

	sum, ok := pm.Data.(*metricspb.Metric_Sum)
	if !ok {
		t.Fatalf("expected Sum data, got %T", pm.Data)
	}
	if !sum.Sum.IsMonotonic {
		t.Error("counter must be monotonic")
	}
	if sum.Sum.AggregationTemporality != metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE {
		t.Error("counter must be cumulative")
	}

	dps := sum.Sum.DataPoints
	if len(dps) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(dps))
	}
	if dps[0].Value.(*metricspb.NumberDataPoint_AsDouble).AsDouble != 42 {
		t.Errorf("expected value 42, got %v", dps[0].Value)
	}
	if dps[0].StartTimeUnixNano != uint64(start.UnixNano()) {
		t.Error("expected start time on cumulative data point")
	}
	if len(dps[0].Attributes) != 1 || dps[0].Attributes[0].Key != "process" {
		t.Errorf("expected process label, got %v", dps[0].Attributes)
	}
}

func TestResourceAttributes(t *testing.T) {
	e := &OTLPExporter{serviceName: "aubogo"}

	res := e.resource()
	found := map[string]string{}
	for _, attr := range res.Attributes {
		found[attr.Key] = attr.Value.GetStringValue()
	}

	if found["service.name"] != "aubogo" {
		t.Errorf("expected service.name=aubogo, got %q", found["service.name"])
	}
	if found["telemetry.sdk.name"] != "aubogo" {
		t.Errorf("expected telemetry.sdk.name=aubogo, got %q", found["telemetry.sdk.name"])
	}
	if _, ok := found["host.name"]; !ok {
		t.Error("expected host.name attribute")
	}
}
