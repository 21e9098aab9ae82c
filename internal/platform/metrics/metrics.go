// Package metrics registers the Prometheus instruments shared across the
// domain services. Per the error-handling policy, conflicts are a normal
// outcome of optimistic concurrency, so they get their own counter instead
// of being folded into errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ProfilesSubmitted     prometheus.Counter
	RegistrationsCreated  prometheus.Counter
	RegistrationsComplete prometheus.Counter
	UnitsCollected        prometheus.Counter
	UnitsSeparated        prometheus.Counter
	SeparationFailures    prometheus.Counter
	RequestsCreated       prometheus.Counter
	RequestsFulfilled     prometheus.Counter
	WriteConflicts        *prometheus.CounterVec

	// AvailableVolumeML tracks available component volume per blood type and
	// component type; the stock report refreshes it after every mutation of
	// the component ledger.
	AvailableVolumeML *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTest registers metrics on a private registry so parallel tests do
// not collide on duplicate registration.
func NewForTest() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProfilesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_profiles_submitted_total",
			Help: "Total medical profiles submitted for eligibility review.",
		}),
		RegistrationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_registrations_created_total",
			Help: "Total donation-event registrations created.",
		}),
		RegistrationsComplete: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_registrations_completed_total",
			Help: "Total registrations completed by staff.",
		}),
		UnitsCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_units_collected_total",
			Help: "Total raw blood units taken into inventory.",
		}),
		UnitsSeparated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_units_separated_total",
			Help: "Total units separated into components.",
		}),
		SeparationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_separation_failures_total",
			Help: "Total separations rolled back into unit error state.",
		}),
		RequestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_requests_created_total",
			Help: "Total hospital blood requests created.",
		}),
		RequestsFulfilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemobank_requests_fulfilled_total",
			Help: "Total hospital blood requests fulfilled.",
		}),
		WriteConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemobank_write_conflicts_total",
			Help: "Optimistic concurrency losers by entity kind.",
		}, []string{"entity"}),
		AvailableVolumeML: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hemobank_available_volume_ml",
			Help: "Available separated component volume in milliliters.",
		}, []string{"blood_type", "component_type"}),
	}
}
