package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngest(t *testing.T) {
	ok := testutil.ToFloat64(Ingestions.WithLabelValues("ok"))
	failed := testutil.ToFloat64(Ingestions.WithLabelValues("failed"))
	below := testutil.ToFloat64(IngestFailures.WithLabelValues("below_threshold"))

	ObserveIngest(time.Millisecond, "")
	ObserveIngest(time.Millisecond, "below_threshold")

	if got := testutil.ToFloat64(Ingestions.WithLabelValues("ok")); got != ok+1 {
		t.Fatalf("ok=%v", got)
	}
	if got := testutil.ToFloat64(Ingestions.WithLabelValues("failed")); got != failed+1 {
		t.Fatalf("failed=%v", got)
	}
	if got := testutil.ToFloat64(IngestFailures.WithLabelValues("below_threshold")); got != below+1 {
		t.Fatalf("below=%v", got)
	}
}
