package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Post("/users", h.CreateUser)
		r.Post("/auth/token", h.AuthToken)
		r.Post("/auth/logout", h.Logout)

		// session routes
		r.Get("/me", h.authed(h.Me))
		r.Get("/versions", h.authed(h.AvailableVersions))
		r.Route("/games", func(r chi.Router) {
			r.Get("/", h.authed(h.ListGames))
			r.Post("/", h.authed(h.CreateGame))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.authed(h.GetGame))
				r.Patch("/", h.authed(h.UpdateGame))
				r.Delete("/", h.authed(h.DeleteGame))
				r.Post("/start", h.authed(h.StartGame))
				r.Post("/stop", h.authed(h.StopGame))
				r.Get("/admins", h.authed(h.GameAdmins))
				r.Post("/admins", h.authed(h.AddGameAdmin))
				r.Delete("/admins/{username}", h.authed(h.RemoveGameAdmin))
			})
		})

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/ops/health", h.HealthHandler)

		})
	})
}

// InitAuth sets up the service token check of the ops routes. With debug on a
// week long token is logged for manual testing.
func (h *Handler) InitAuth(jwtKey string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)
	if !h.debug {
		return
	}

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": "gamesvc-ops",
		"exp":        expirationTime,
	})
	if err != nil {
		log.Warnf("unable to encode debug JWT: %s", err)
		return
	}
	log.Debugf("DEBUG: ops JWT for testing: %s", tokenString)
}

// ServiceToken signs a service token for the ops routes.
func (h *Handler) ServiceToken(serviceID string, ttl time.Duration) (string, error) {
	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": serviceID,
		"exp":        time.Now().Add(ttl).Unix(),
	})
	return tokenString, err
}
