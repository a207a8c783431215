package metrics

import (
	"sync"

	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports console metrics to Prometheus
type PrometheusExporter struct {
	tenantPassPercentage *prometheus.GaugeVec
	tenantLastCheck      *prometheus.GaugeVec
	tenantStatus         *prometheus.GaugeVec
	tenantUpToDate       *prometheus.GaugeVec
	endpointLastStatus   *prometheus.GaugeVec
	endpointLastRun      *prometheus.GaugeVec
	mu                   sync.RWMutex
}

// NewPrometheusExporter creates a new Prometheus exporter
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{
		tenantPassPercentage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_tenant_pass_percentage",
				Help: "Percentage of endpoint tests passed in the tenant's last run",
			},
			[]string{"tenant"},
		),
		tenantLastCheck: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_tenant_last_check_timestamp",
				Help: "Timestamp of the tenant's last completed test run",
			},
			[]string{"tenant"},
		),
		tenantStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_tenant_status",
				Help: "Last run status per tenant (1 for success, 0 for failed)",
			},
			[]string{"tenant"},
		),
		tenantUpToDate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_tenant_up_to_date",
				Help: "Whether the tenant's deployed commit matches the master repository (1 or 0)",
			},
			[]string{"tenant"},
		),
		endpointLastStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_endpoint_last_status",
				Help: "Endpoint last test state (1 for ok, 0 for failed)",
			},
			[]string{"endpoint", "method"},
		),
		endpointLastRun: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiwatch_endpoint_last_run_timestamp",
				Help: "Timestamp of the endpoint's last test execution",
			},
			[]string{"endpoint", "method"},
		),
	}
}

// UpdateMetrics updates Prometheus metrics with the latest fleet snapshot
func (e *PrometheusExporter) UpdateMetrics(snapshot *storage.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Reset all metrics before updating
	e.tenantPassPercentage.Reset()
	e.tenantLastCheck.Reset()
	e.tenantStatus.Reset()
	e.tenantUpToDate.Reset()
	e.endpointLastStatus.Reset()
	e.endpointLastRun.Reset()

	for _, t := range snapshot.Tenants {
		e.tenantPassPercentage.WithLabelValues(t.Name).Set(t.PassPercentage)

		if t.LastCheckAt != nil {
			e.tenantLastCheck.WithLabelValues(t.Name).Set(float64(t.LastCheckAt.Unix()))
		}

		// Tenants that never ran are skipped rather than reported as failed
		if t.LastStatus != storage.StatusPending {
			statusValue := 0.0
			if t.LastStatus == storage.StatusSuccess {
				statusValue = 1.0
			}
			e.tenantStatus.WithLabelValues(t.Name).Set(statusValue)
		}

		upToDate := 0.0
		if t.UpToDate {
			upToDate = 1.0
		}
		e.tenantUpToDate.WithLabelValues(t.Name).Set(upToDate)
	}

	for _, ep := range snapshot.Endpoints {
		if ep.LastRunAt == nil {
			continue
		}

		statusValue := 0.0
		if ep.LastState == storage.ResultOK {
			statusValue = 1.0
		}
		e.endpointLastStatus.WithLabelValues(ep.Name, ep.Method).Set(statusValue)
		e.endpointLastRun.WithLabelValues(ep.Name, ep.Method).Set(float64(ep.LastRunAt.Unix()))
	}
}
