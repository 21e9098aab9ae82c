package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"hemobank/internal/audit"
	auditstore "hemobank/internal/audit/store"
	"hemobank/internal/eligibility"
	"hemobank/internal/event"
	"hemobank/internal/fulfillment"
	"hemobank/internal/inventory"
	"hemobank/internal/platform/middleware"
	"hemobank/internal/registration"
	"hemobank/internal/reporting"
	"hemobank/internal/separation"
	id "hemobank/pkg/domain"
	"hemobank/pkg/testutil"
)

const signingKey = "router-test-signing-key"

type RouterSuite struct {
	suite.Suite
	router http.Handler

	eligSvc *eligibility.Service
	regSvc  *registration.Service
}

func (s *RouterSuite) SetupTest() {
	logger := slog.Default()
	auditor := audit.NewPublisher(auditstore.NewInMemoryStore())

	eligStore := eligibility.NewInMemoryStore()
	eventStore := event.NewInMemoryStore()
	regStore := registration.NewInMemoryStore()
	unitStore, componentStore := inventory.NewInMemoryStores()
	requestStore := fulfillment.NewInMemoryStore()

	s.eligSvc = eligibility.NewService(eligStore, eligibility.WithAuditor(auditor))
	eventSvc := event.NewService(eventStore, event.WithAuditor(auditor))
	s.regSvc = registration.NewService(regStore, s.eligSvc, eventSvc)
	eventSvc.SetRegistrationLedger(s.regSvc)
	invSvc := inventory.NewService(unitStore, componentStore,
		inventory.WithRegistrations(s.regSvc),
		inventory.WithAuditor(auditor),
		inventory.WithIntakePolicy(inventory.IntakePolicy{MinVolumeML: 50, MaxVolumeML: 1000}),
	)
	engine := separation.NewEngine(invSvc, componentStore, separation.WithAuditor(auditor))
	fulfillSvc := fulfillment.NewService(requestStore, componentStore, invSvc,
		fulfillment.WithAuditor(auditor),
	)
	reportSvc := reporting.NewService(invSvc, fulfillSvc)

	s.router = NewRouter(Deps{
		Eligibility: NewEligibilityHandler(s.eligSvc),
		Events:      NewEventHandler(eventSvc),
		Regs:        NewRegistrationHandler(s.regSvc),
		Inventory:   NewInventoryHandler(invSvc, engine),
		Fulfillment: NewFulfillmentHandler(fulfillSvc),
		Reporting:   NewReportingHandler(reportSvc),
		Validator:   middleware.NewHMACValidator(signingKey),
		Logger:      logger,
	})
}

func (s *RouterSuite) token(role id.Role) string {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "tester",
		"role": role.String(),
	})
	signed, err := t.SignedString([]byte(signingKey))
	s.Require().NoError(err)
	return signed
}

func (s *RouterSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	req := testutil.JSONRequest(s.T(), method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.Do(s.router, req)
}

func (s *RouterSuite) decodeBody(rr *httptest.ResponseRecorder) map[string]any {
	return testutil.DecodeBody(s.T(), rr)
}

func (s *RouterSuite) TestAuthTiers() {
	s.Run("missing token is unauthorized", func() {
		rr := s.do(http.MethodGet, "/events", "", nil)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("garbage token is unauthorized", func() {
		rr := s.do(http.MethodGet, "/events", "not-a-token", nil)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("donor cannot reach staff routes", func() {
		rr := s.do(http.MethodGet, "/profiles", s.token(id.RoleDonor), nil)
		s.Equal(http.StatusForbidden, rr.Code)
	})

	s.Run("staff reaches staff routes", func() {
		rr := s.do(http.MethodGet, "/profiles", s.token(id.RoleStaff), nil)
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("admin reaches staff routes", func() {
		rr := s.do(http.MethodGet, "/profiles", s.token(id.RoleAdmin), nil)
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("health needs no token", func() {
		rr := s.do(http.MethodGet, "/healthz", "", nil)
		s.Equal(http.StatusOK, rr.Code)
	})
}

func (s *RouterSuite) TestErrorEnvelope() {
	s.Run("validation error renders code and message", func() {
		rr := s.do(http.MethodPost, "/profiles", s.token(id.RoleDonor), map[string]any{
			"donor_id":   id.NewDonorID().String(),
			"full_name":  "Mai Tran",
			"blood_type": "Z+",
			"email":      "mai@example.com",
		})
		testutil.AssertErrorEnvelope(s.T(), rr, http.StatusBadRequest, "validation")
		s.NotEmpty(s.decodeBody(rr)["message"])
	})

	s.Run("unknown entity renders not_found", func() {
		rr := s.do(http.MethodGet, "/profiles/"+id.NewProfileID().String(), s.token(id.RoleDonor), nil)
		testutil.AssertErrorEnvelope(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("unknown body fields are rejected", func() {
		rr := s.do(http.MethodPost, "/registrations", s.token(id.RoleDonor), map[string]any{
			"donor_id": id.NewDonorID().String(),
			"event":    "nope",
		})
		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

// TestDonationToFulfillmentFlow drives the whole pipeline through the API:
// profile intake, review, event, registration, completion, unit intake,
// separation, request, decision, allocation.
func (s *RouterSuite) TestDonationToFulfillmentFlow() {
	staff := s.token(id.RoleStaff)
	donor := s.token(id.RoleDonor)
	donorID := id.NewDonorID()
	now := time.Now()

	// Donor submits a medical profile.
	rr := s.do(http.MethodPost, "/profiles", donor, map[string]any{
		"donor_id":   donorID.String(),
		"full_name":  "Mai Tran",
		"blood_type": "O+",
		"email":      "mai@example.com",
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	profileID := s.decodeBody(rr)["id"].(string)

	// Staff approves it.
	rr = s.do(http.MethodPost, "/profiles/"+profileID+"/review", staff, map[string]any{
		"decision": "approve",
	})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	// Staff opens an ongoing event.
	rr = s.do(http.MethodPost, "/events", staff, map[string]any{
		"title":     "City Drive",
		"location":  "Town Hall",
		"starts_at": now.Add(-time.Hour).Format(time.RFC3339),
		"ends_at":   now.Add(8 * time.Hour).Format(time.RFC3339),
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	eventID := s.decodeBody(rr)["id"].(string)

	// Donor registers.
	rr = s.do(http.MethodPost, "/registrations", donor, map[string]any{
		"donor_id": donorID.String(),
		"event_id": eventID,
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	regID := s.decodeBody(rr)["id"].(string)

	// Staff completes the registration after the donation.
	rr = s.do(http.MethodPost, "/registrations/"+regID+"/status", staff, map[string]any{
		"state": "completed",
	})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	// Staff takes the collected unit into stock against the registration.
	rr = s.do(http.MethodPost, "/units", staff, map[string]any{
		"donor_id":        donorID.String(),
		"registration_id": regID,
		"blood_type":      "O+",
		"volume_ml":       450,
		"collected_at":    now.Format(time.RFC3339),
		"expires_at":      now.Add(35 * 24 * time.Hour).Format(time.RFC3339),
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	unitID := s.decodeBody(rr)["id"].(string)

	// A second unit for the same registration is refused.
	rr = s.do(http.MethodPost, "/units", staff, map[string]any{
		"donor_id":        donorID.String(),
		"registration_id": regID,
		"blood_type":      "O+",
		"volume_ml":       450,
		"collected_at":    now.Format(time.RFC3339),
		"expires_at":      now.Add(35 * 24 * time.Hour).Format(time.RFC3339),
	})
	s.Require().Equal(http.StatusConflict, rr.Code)

	// Separating before the unit is claimed conflicts.
	rr = s.do(http.MethodPost, "/units/"+unitID+"/separate", staff, map[string]any{
		"components": []map[string]any{{"type": "plasma", "volume_ml": 100}},
	})
	testutil.AssertErrorEnvelope(s.T(), rr, http.StatusConflict, "conflict")

	// Staff claims the unit, then separates it.
	rr = s.do(http.MethodPost, "/units/"+unitID+"/mark-separating", staff, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, "/units/"+unitID+"/separate", staff, map[string]any{
		"components": []map[string]any{
			{"type": "red_cell", "volume_ml": 250},
			{"type": "plasma", "volume_ml": 200},
		},
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var comps []map[string]any
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &comps))
	var redCellID string
	for _, c := range comps {
		if c["component_type"] == "red_cell" {
			redCellID = c["id"].(string)
		}
	}
	s.Require().NotEmpty(redCellID)

	// Separating again conflicts.
	rr = s.do(http.MethodPost, "/units/"+unitID+"/separate", staff, map[string]any{
		"components": []map[string]any{{"type": "plasma", "volume_ml": 100}},
	})
	s.Require().Equal(http.StatusConflict, rr.Code)

	// A hospital request comes in, gets approved, and is allocated.
	rr = s.do(http.MethodPost, "/requests", staff, map[string]any{
		"patient_name":   "Tran Van Binh",
		"hospital":       "General Hospital",
		"blood_type":     "O+",
		"component_type": "red_cell",
		"volume_ml":      200,
		"urgency":        "urgent",
		"reason":         "emergency transfusion",
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	requestID := s.decodeBody(rr)["id"].(string)

	rr = s.do(http.MethodPost, "/requests/"+requestID+"/decision", staff, map[string]any{
		"decision": "approve",
	})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	// The hospital names the red-cell component it wants.
	rr = s.do(http.MethodPost, "/requests/"+requestID+"/allocate", staff, map[string]any{
		"component_ids": []string{redCellID},
	})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	allocated := s.decodeBody(rr)
	s.Equal("fulfilled", allocated["state"])
	s.Equal(float64(250), allocated["reserved_volume_ml"])

	// Asking for more than remains fails with the taxonomy code.
	rr = s.do(http.MethodPost, "/requests", staff, map[string]any{
		"patient_name":   "Le Thi Mai",
		"hospital":       "General Hospital",
		"blood_type":     "O+",
		"component_type": "red_cell",
		"volume_ml":      300,
	})
	s.Require().Equal(http.StatusCreated, rr.Code)
	secondID := s.decodeBody(rr)["id"].(string)
	rr = s.do(http.MethodPost, "/requests/"+secondID+"/decision", staff, map[string]any{
		"decision": "approve",
	})
	s.Require().Equal(http.StatusOK, rr.Code)
	rr = s.do(http.MethodPost, "/requests/"+secondID+"/allocate", staff, nil)
	testutil.AssertErrorEnvelope(s.T(), rr, http.StatusConflict, "insufficient_inventory")

	// The snapshot reflects the day's work.
	rr = s.do(http.MethodGet, "/reports/snapshot", staff, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	snap := s.decodeBody(rr)
	s.NotNil(snap["stock"])
	s.NotNil(snap["units_by_status"])
}

func (s *RouterSuite) TestStockReport() {
	staff := s.token(id.RoleStaff)
	rr := s.do(http.MethodGet, "/stock", staff, nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	var report []map[string]any
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &report))
	s.Len(report, 8)
	for _, row := range report {
		s.Equal("critical", row["level"], fmt.Sprintf("empty bank: %v should be critical", row["blood_type"]))
	}
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
