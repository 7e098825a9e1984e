/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Bearer token to Identity (api routes only)

ROUTE GROUPS:
  /health                    Liveness plus store ping
  /api/requests/*            Request lifecycle (manager/hr steps role-gated)
  /api/employees/*           Employees, balances, adjustment history
  /api/accruals, /api/carry-forward, /api/adjustments   HR only
  /api/leave-types/*, /api/policies/*, /api/calendars/* Reads open, writes HR
  /api/scheduler/*           Run history and manual tick (HR)
  /api/scenarios/*           Demo data (HR)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Identity middleware and RequireRole
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/leave-engine/leave"
)

// RouterOptions configure cross-cutting middleware.
type RouterOptions struct {
	Auth           *Authenticator
	AllowedOrigins []string
	// Scheduler exposes /api/scheduler when set.
	Scheduler *Scheduler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("", "")
	}
	hrOnly := RequireRole(leave.RoleHR)
	managers := RequireRole(leave.RoleManager, leave.RoleHR)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Employee-ID"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		// Request lifecycle
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Patch("/{id}", h.UpdateRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.With(managers).Post("/{id}/manager/approve", h.ManagerApprove)
			r.With(managers).Post("/{id}/manager/reject", h.ManagerReject)
			r.With(hrOnly).Post("/{id}/hr/finalize", h.HRFinalize)
			r.With(hrOnly).Post("/{id}/hr/override", h.HROverride)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.With(managers).Get("/", h.ListEmployees)
			r.With(hrOnly).Post("/", h.SaveEmployee)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/adjustments", h.GetAdjustments)
		})

		// Ledger operations
		r.Group(func(r chi.Router) {
			r.Use(hrOnly)
			r.Post("/accruals", h.RunAccrual)
			r.Post("/carry-forward", h.RunCarryForward)
			r.Post("/adjustments", h.CreateAdjustment)
		})

		// Catalog routes
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.With(hrOnly).Post("/", h.CreateLeaveType)
			r.With(hrOnly).Post("/{id}/disable", h.DisableLeaveType)
		})
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.With(hrOnly).Post("/", h.CreatePolicy)
		})
		r.Route("/calendars", func(r chi.Router) {
			r.Get("/{year}", h.GetCalendar)
			r.With(hrOnly).Put("/{year}", h.PutCalendar)
		})

		if opts.Scheduler != nil {
			r.Route("/scheduler", func(r chi.Router) {
				r.Use(hrOnly)
				r.Get("/runs", opts.Scheduler.ListRuns)
				r.Post("/run", opts.Scheduler.Trigger)
			})
		}

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(hrOnly)
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no route for " + r.Method + " " + r.URL.Path, Code: CodeNotFound})
	})

	return r
}
