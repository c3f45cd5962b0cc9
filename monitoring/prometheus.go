package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accountsdb/logx"
)

type dbPromMetrics struct {
	dbUpUnixSeconds     prometheus.Gauge
	rootedSlot          prometheus.Gauge
	openSlots           prometheus.Gauge
	liveSegments        prometheus.Gauge
	flushedRecordCount  prometheus.Counter
	deadRecordCount     prometheus.Counter
	reclaimedSegments   prometheus.Counter
	reclamationDeferred prometheus.Counter
	droppedEventCount   prometheus.Counter
	cleanPassDuration   prometheus.Histogram
	flushDuration       prometheus.Histogram
}

func newDBPromMetrics() *dbPromMetrics {
	return &dbPromMetrics{
		dbUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "accountsdb_up_timestamp_unix_seconds",
				Help: "Unix timestamp of when the accounts database was opened",
			},
		),
		rootedSlot: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "accountsdb_rooted_slot",
				Help: "The most recently rooted slot",
			},
		),
		openSlots: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "accountsdb_open_slots",
				Help: "Number of slots currently staged in the slot cache",
			},
		),
		liveSegments: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "accountsdb_live_segments",
				Help: "Number of storage segments not yet reclaimed",
			},
		),
		flushedRecordCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accountsdb_flushed_record_count",
				Help: "The total number of account records flushed into segments",
			},
		),
		deadRecordCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accountsdb_dead_record_count",
				Help: "The total number of records marked dead by the cleaner",
			},
		),
		reclaimedSegments: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accountsdb_reclaimed_segments",
				Help: "The total number of segments physically reclaimed",
			},
		),
		reclamationDeferred: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accountsdb_reclamation_deferred",
				Help: "Times a fully dead segment could not be freed yet (pinned or IO failure)",
			},
		),
		droppedEventCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accountsdb_dropped_event_count",
				Help: "Account update notifications dropped under subscriber backpressure",
			},
		),
		cleanPassDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "accountsdb_clean_pass_duration_seconds",
				Help: "Duration of one background cleaning pass",
			},
		),
		flushDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "accountsdb_flush_duration_seconds",
				Help: "Duration of flushing one slot into a segment",
			},
		),
	}
}

var dbMetrics *dbPromMetrics

// InitMetrics initializes metrics for the database but does not expose
// them over HTTP yet.
func InitMetrics() {
	if dbMetrics != nil {
		return
	}
	dbMetrics = newDBPromMetrics()
	dbMetrics.dbUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func enabled() bool {
	return dbMetrics != nil
}

func SetRootedSlot(slot uint64) {
	if enabled() {
		dbMetrics.rootedSlot.Set(float64(slot))
	}
}

func SetOpenSlots(count int) {
	if enabled() {
		dbMetrics.openSlots.Set(float64(count))
	}
}

func SetLiveSegments(count int) {
	if enabled() {
		dbMetrics.liveSegments.Set(float64(count))
	}
}

func AddFlushedRecords(count int) {
	if enabled() {
		dbMetrics.flushedRecordCount.Add(float64(count))
	}
}

func AddDeadRecords(count int) {
	if enabled() {
		dbMetrics.deadRecordCount.Add(float64(count))
	}
}

func IncreaseReclaimedSegments() {
	if enabled() {
		dbMetrics.reclaimedSegments.Inc()
	}
}

func IncreaseReclamationDeferred() {
	if enabled() {
		dbMetrics.reclamationDeferred.Inc()
	}
}

func IncreaseDroppedEventCount() {
	if enabled() {
		dbMetrics.droppedEventCount.Inc()
	}
}

func RecordCleanPassDuration(duration time.Duration) {
	if enabled() {
		dbMetrics.cleanPassDuration.Observe(duration.Seconds())
	}
}

func RecordFlushDuration(duration time.Duration) {
	if enabled() {
		dbMetrics.flushDuration.Observe(duration.Seconds())
	}
}
