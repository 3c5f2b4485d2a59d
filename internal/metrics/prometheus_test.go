package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_RecordOperation(t *testing.T) {
	c := NewPrometheusCollector()
	ctx := context.Background()

	c.RecordOperation(ctx, "store", StatusSuccess, 3)
	c.RecordOperation(ctx, "store", StatusSuccess, 4)
	c.RecordOperation(ctx, "retrieve", StatusEmpty, 1)

	if got := testutil.CollectAndCount(c.operationsTotal); got != 2 {
		t.Errorf("expected 2 series, got %d", got)
	}
	if v := testutil.ToFloat64(c.operationsTotal.WithLabelValues("store", StatusSuccess)); v != 2 {
		t.Errorf("store/success = %v, want 2", v)
	}
}

func TestPrometheusCollector_ErrorsAndGauge(t *testing.T) {
	c := NewPrometheusCollector()
	ctx := context.Background()

	c.RecordError(ctx, "store", "validation")
	c.RecordError(ctx, "store", "validation")
	c.SetIndexSize(ctx, "chunks", 12)
	c.SetIndexSize(ctx, "chunks", 13)

	if v := testutil.ToFloat64(c.errorsTotal.WithLabelValues("store", "validation")); v != 2 {
		t.Errorf("errors = %v, want 2", v)
	}
	if v := testutil.ToFloat64(c.indexSize.WithLabelValues("chunks")); v != 13 {
		t.Errorf("chunks gauge = %v, want 13", v)
	}
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector()
	c.SetIndexSize(context.Background(), "recent", 5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `ctxstore_index_size{kind="recent"} 5`) {
		t.Errorf("exposition missing gauge:\n%s", rec.Body.String())
	}
}

func TestNoopCollector(t *testing.T) {
	var c Collector = NewNoopCollector()
	c.RecordOperation(context.Background(), "store", StatusSuccess, 1)
	c.RecordError(context.Background(), "store", "io")
	c.SetIndexSize(context.Background(), "chunks", 1)
}
