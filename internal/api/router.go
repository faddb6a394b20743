package api

import (
	"net/http"

	mw "github.com/carhelperai/carhelper/internal/api/middleware"
	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth              *mw.Auth
	AuthRateLimit     *mw.RateLimit
	DiagnoseRateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	DiagnoseHandler http.HandlerFunc

	SignUpHandler  http.HandlerFunc
	SignInHandler  http.HandlerFunc
	SignOutHandler http.HandlerFunc
	SessionHandler http.HandlerFunc

	GetUserHandler    http.HandlerFunc
	UpdateUserHandler http.HandlerFunc

	ListVehicles  http.HandlerFunc
	CreateVehicle http.HandlerFunc
	UpdateVehicle http.HandlerFunc
	DeleteVehicle http.HandlerFunc

	ListDiagnoses http.HandlerFunc
	UsageHandler  http.HandlerFunc
	OBDHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.ClientIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/obd/{code}", orNotImplemented(deps.OBDHandler))

	// Over-budget requests are rejected before the session lookup and body
	// decode; the service itself reports a missing caller.
	r.With(deps.DiagnoseRateLimit.Limit, deps.Auth.Identify).
		Post("/diagnose", orNotImplemented(deps.DiagnoseHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Identify)

		r.Route("/auth", func(r chi.Router) {
			r.With(deps.AuthRateLimit.Limit).Post("/sign-up", orNotImplemented(deps.SignUpHandler))
			r.With(deps.AuthRateLimit.Limit).Post("/sign-in", orNotImplemented(deps.SignInHandler))
			r.Post("/sign-out", orNotImplemented(deps.SignOutHandler))
			r.Get("/session", orNotImplemented(deps.SessionHandler))
		})

		// Signed-in routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireUser)

			r.Get("/user", orNotImplemented(deps.GetUserHandler))
			r.Put("/user", orNotImplemented(deps.UpdateUserHandler))

			r.Get("/vehicles", orNotImplemented(deps.ListVehicles))
			r.Post("/vehicles", orNotImplemented(deps.CreateVehicle))
			r.Put("/vehicles/{vehicleID}", orNotImplemented(deps.UpdateVehicle))
			r.Delete("/vehicles/{vehicleID}", orNotImplemented(deps.DeleteVehicle))

			r.Get("/diagnoses", orNotImplemented(deps.ListDiagnoses))
			r.Get("/subscription/usage", orNotImplemented(deps.UsageHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
