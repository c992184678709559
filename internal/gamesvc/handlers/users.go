package handlers

import (
	"net/http"

	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	token, err := h.users.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, "user created", token)
}

func (h *Handler) AuthToken(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	token, err := h.users.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "authenticated", token)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Logout(r.Context(), bearerToken(r)); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "logged out", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, user *models.User) {
	h.ok(w, http.StatusOK, "ok", user)
}
