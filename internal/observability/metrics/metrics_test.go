package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("case_id", "2025001"),
		attribute.String("employee_id", "emp-7"),
		attribute.String("reason", "validation"),
		attribute.String("source_type", "case"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "case_id" || attr.Key == "employee_id" {
			t.Fatalf("high-cardinality label %s leaked", attr.Key)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordEntry(context.Background(), true)
	m.RecordReplay(context.Background(), "time_entry.create")
	m.RecordRejected(context.Background(), "validation")
}
