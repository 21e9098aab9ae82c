// Package httpapi is the HTTP surface of the blood bank core. Handlers are
// thin: decode, call the domain service, render. All business rules live in
// the services; the only logic here is input shaping and role tiers.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hemobank/internal/platform/middleware"
	id "hemobank/pkg/domain"
)

// Deps bundles everything the router mounts.
type Deps struct {
	Eligibility *EligibilityHandler
	Events      *EventHandler
	Regs        *RegistrationHandler
	Inventory   *InventoryHandler
	Fulfillment *FulfillmentHandler
	Reporting   *ReportingHandler

	Validator      middleware.TokenValidator
	Logger         *slog.Logger
	RequestTimeout time.Duration
	Limiter        func(http.Handler) http.Handler
	Health         func() error
}

// NewRouter wires the full API. Donor-tier routes accept any authenticated
// caller; staff-tier routes are where state changes with medical or
// financial weight happen.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if d.Health != nil {
			if err := d.Health(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	donor := middleware.RequireRole(d.Validator, id.RoleDonor, d.Logger)
	staff := middleware.RequireRole(d.Validator, id.RoleStaff, d.Logger)

	r.Group(func(r chi.Router) {
		r.Use(donor)
		if d.Limiter != nil {
			r.Use(d.Limiter)
		}
		r.Post("/profiles", d.Eligibility.handleSubmit)
		r.Get("/profiles/{profileID}", d.Eligibility.handleGet)
		r.Patch("/profiles/{profileID}/contact", d.Eligibility.handleUpdateContact)

		r.Get("/events", d.Events.handleList)
		r.Get("/events/{eventID}", d.Events.handleGet)

		r.Post("/registrations", d.Regs.handleRegister)
		r.Get("/registrations/{registrationID}", d.Regs.handleGet)
		r.Get("/donors/{donorID}/registrations", d.Regs.handleListByDonor)
	})

	r.Group(func(r chi.Router) {
		r.Use(staff)
		if d.Limiter != nil {
			r.Use(d.Limiter)
		}
		r.Get("/profiles", d.Eligibility.handleList)
		r.Post("/profiles/{profileID}/review", d.Eligibility.handleReview)

		r.Post("/events", d.Events.handleCreate)
		r.Put("/events/{eventID}", d.Events.handleUpdate)
		r.Delete("/events/{eventID}", d.Events.handleDelete)
		r.Get("/events/{eventID}/registrations", d.Regs.handleListByEvent)

		r.Post("/registrations/{registrationID}/status", d.Regs.handleChangeStatus)

		r.Post("/units", d.Inventory.handleIntake)
		r.Get("/units", d.Inventory.handleListUnits)
		r.Get("/units/{unitID}", d.Inventory.handleGetUnit)
		r.Post("/units/{unitID}/retry", d.Inventory.handleRetry)
		r.Post("/units/{unitID}/mark-separating", d.Inventory.handleMarkSeparating)
		r.Post("/units/{unitID}/separate", d.Inventory.handleSeparate)
		r.Get("/components", d.Inventory.handleListComponents)
		r.Get("/stock", d.Inventory.handleStock)

		r.Post("/requests", d.Fulfillment.handleCreate)
		r.Get("/requests", d.Fulfillment.handleList)
		r.Get("/requests/{requestID}", d.Fulfillment.handleGet)
		r.Post("/requests/{requestID}/decision", d.Fulfillment.handleDecide)
		r.Post("/requests/{requestID}/allocate", d.Fulfillment.handleAllocate)
		r.Post("/requests/{requestID}/confirm-payment", d.Fulfillment.handleConfirmPayment)
		r.Post("/requests/{requestID}/cancel-allocation", d.Fulfillment.handleCancelAllocation)

		r.Get("/reports/snapshot", d.Reporting.handleSnapshot)
	})

	return r
}
