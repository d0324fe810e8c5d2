package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for one station process.
type Metrics struct {
	ScansTotal     *prometheus.CounterVec
	FeesCollected  prometheus.Counter
	SlotsAvailable prometheus.Gauge
	SensorReadings *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry so tests can
// instantiate it repeatedly.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_gate_scans_total",
			Help: "Gate scans by outcome (entry, exit, debounced, rejected, anomaly, error)",
		}, []string{"outcome"}),
		FeesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "parking_fees_collected_total",
			Help: "Sum of parking fees settled at this gate",
		}),
		SlotsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parking_slots_available",
			Help: "Free slots according to the last committed occupancy update",
		}),
		SensorReadings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_sensor_readings_total",
			Help: "Sensor readings by result (ok, unavailable, error)",
		}, []string{"result"}),
	}
}

// AvailableChanged lets Metrics act as an occupancy notifier.
func (m *Metrics) AvailableChanged(_ context.Context, available int) {
	m.SlotsAvailable.Set(float64(available))
}
