// Package sensor polls per-slot distance sensors and feeds boolean occupancy
// into the tracker. Pulse timing and hardware access live behind the
// DistanceSensor capability; this package only consumes distances.
package sensor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/smartspot/parking/internal/metrics"
	"github.com/smartspot/parking/internal/services"
)

// ErrUnavailable means the sensor produced no usable reading (timeout or
// out-of-range echo). It carries no occupancy information and must never
// force a transition.
var ErrUnavailable = errors.New("sensor reading unavailable")

// DistanceSensor measures the distance in centimeters on one hardware
// channel.
type DistanceSensor interface {
	Measure(ctx context.Context, channel int) (float64, error)
}

// Slot binds a slot id to its sensor channel.
type Slot struct {
	ID      string
	Channel int
}

// Station sweeps all slots sequentially, one reading at a time, with a fixed
// delay between slots and a pause between full passes. It shares no memory
// with the gate loop; the store is the only common ground.
type Station struct {
	sensor    DistanceSensor
	tracker   *services.OccupancyService
	metrics   *metrics.Metrics
	slots     []Slot
	threshold float64 // cm; readings at or below mean occupied
	slotDelay time.Duration
	interval  time.Duration
}

func NewStation(sensor DistanceSensor, tracker *services.OccupancyService, m *metrics.Metrics, slots []Slot, threshold float64, slotDelay, interval time.Duration) *Station {
	return &Station{
		sensor:    sensor,
		tracker:   tracker,
		metrics:   m,
		slots:     slots,
		threshold: threshold,
		slotDelay: slotDelay,
		interval:  interval,
	}
}

// Run polls until canceled. A cancellation lands between readings: the
// current slot is carried through its store write before the loop returns.
func (s *Station) Run(ctx context.Context) error {
	log.Printf("[SENSOR] Monitoring %d slots, threshold %.1f cm", len(s.slots), s.threshold)
	for {
		for _, slot := range s.slots {
			s.poll(ctx, slot)
			if !sleepCtx(ctx, s.slotDelay) {
				log.Println("[SENSOR] Stopping sensor monitoring...")
				return ctx.Err()
			}
		}
		if !sleepCtx(ctx, s.interval) {
			log.Println("[SENSOR] Stopping sensor monitoring...")
			return ctx.Err()
		}
	}
}

func (s *Station) poll(ctx context.Context, slot Slot) {
	distance, err := s.sensor.Measure(ctx, slot.Channel)
	if errors.Is(err, ErrUnavailable) {
		// No new information; the last known state stands.
		s.metrics.SensorReadings.WithLabelValues("unavailable").Inc()
		return
	}
	if err != nil {
		log.Printf("[SENSOR] Error measuring slot %s: %v", slot.ID, err)
		s.metrics.SensorReadings.WithLabelValues("error").Inc()
		return
	}
	s.metrics.SensorReadings.WithLabelValues("ok").Inc()

	occupied := distance <= s.threshold
	if err := s.tracker.ReportOccupancy(ctx, slot.ID, occupied); err != nil {
		// Cache was left untouched, so the next reading retries.
		log.Printf("[SENSOR] Error updating slot %s: %v", slot.ID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
