package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ingestions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streampoints", Name: "ingestions_total", Help: "Ingestion runs by result",
	}, []string{"result"})
	IngestFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streampoints", Name: "ingest_failures_total", Help: "Failed ingestion runs by error kind",
	}, []string{"kind"})
	LedgerAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streampoints", Name: "ledger_entries_added_total", Help: "New per-day ledger entries",
	})
	LedgerPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streampoints", Name: "ledger_entries_pruned_total", Help: "Ledger entries removed by expiry",
	})
	StateLoadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streampoints", Name: "state_load_failures_total", Help: "Prior tenant state could not be read",
	})
	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streampoints", Name: "ingest_duration_seconds", Help: "Ingestion run latency",
		Buckets: prometheus.DefBuckets,
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streampoints", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Ingestions, IngestFailures, LedgerAdded, LedgerPruned,
		StateLoadFailures, IngestDuration, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// ObserveIngest фиксирует итог одного прогона; kind пустой при успехе.
func ObserveIngest(d time.Duration, kind string) {
	IngestDuration.Observe(d.Seconds())
	if kind == "" {
		Ingestions.WithLabelValues("ok").Inc()
		return
	}
	Ingestions.WithLabelValues("failed").Inc()
	IngestFailures.WithLabelValues(kind).Inc()
}
