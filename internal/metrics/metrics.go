// Package metrics holds the Prometheus collectors the synchronizer and
// rescue path report to. Collectors register on the default registry.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/finsync/internal/domain"
)

var (
	backendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsync_backend_failures_total",
		Help: "Backend operations that failed and were skipped",
	}, []string{"backend", "op", "class"})

	loadSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsync_load_source_total",
		Help: "Loads by the backend whose copy was selected",
	}, []string{"kind", "source"})

	propagationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsync_propagations_total",
		Help: "Write-backs of a selected copy to a lagging backend",
	}, []string{"backend", "status"})

	saveStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsync_save_status_total",
		Help: "Saves by resulting durability status",
	}, []string{"kind", "status"})

	rescueDumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsync_rescue_dumps_total",
		Help: "Rescue dump attempts by outcome",
	}, []string{"status"})

	collectionRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finsync_collection_records",
		Help: "Record count of the last loaded or saved collection",
	}, []string{"kind"})
)

// Classify maps an error onto the failure class label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, domain.ErrBackendUnreachable):
		return "unreachable"
	default:
		return "other"
	}
}

func BackendFailure(backend domain.Source, op string, err error) {
	backendFailuresTotal.WithLabelValues(string(backend), op, Classify(err)).Inc()
}

func LoadSource(kind domain.Kind, source domain.Source) {
	loadSourceTotal.WithLabelValues(string(kind), string(source)).Inc()
}

func Propagation(backend domain.Source, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	propagationsTotal.WithLabelValues(string(backend), status).Inc()
}

func SaveStatus(kind domain.Kind, status domain.SaveStatus) {
	saveStatusTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func RescueDump(err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	rescueDumpsTotal.WithLabelValues(status).Inc()
}

func CollectionSize(kind domain.Kind, n int) {
	collectionRecords.WithLabelValues(string(kind)).Set(float64(n))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

var archiveMirrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "finsync_archive_mirrors_total",
	Help: "Snapshot files mirrored to object storage by outcome",
}, []string{"driver", "status"})

func ArchiveMirror(driver string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	archiveMirrorsTotal.WithLabelValues(driver, status).Inc()
}
