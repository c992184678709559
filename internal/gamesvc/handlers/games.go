package handlers

import (
	"context"
	"net/http"

	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/service"
	"github.com/go-chi/chi"
)

func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request, user *models.User) {
	games, err := h.games.ListGames(r.Context(), user)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "ok", games)
}

func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	game, err := h.games.GetGame(r.Context(), user, id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "ok", game)
}

func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	var in service.CreateGameInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	game, err := h.games.CreateGame(r.Context(), user, in)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, "game created", game)
}

func (h *Handler) UpdateGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	var in service.UpdateGameInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	game, err := h.games.UpdateGame(r.Context(), user, id, in)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "game updated", game)
}

func (h *Handler) DeleteGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	if err := h.games.DeleteGame(r.Context(), user, id); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "game deleted", nil)
}

func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	h.transition(w, r, user, h.games.StartGame, "game started")
}

func (h *Handler) StopGame(w http.ResponseWriter, r *http.Request, user *models.User) {
	h.transition(w, r, user, h.games.StopGame, "game stopped")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, user *models.User,
	op func(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error), message string) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	game, err := op(r.Context(), user, id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, message, game)
}

func (h *Handler) GameAdmins(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	admins, err := h.games.GameAdmins(r.Context(), user, id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "ok", admins)
}

func (h *Handler) AddGameAdmin(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	admins, err := h.games.AddGameAdmin(r.Context(), user, id, in.Username)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, "admin added", admins)
}

func (h *Handler) RemoveGameAdmin(w http.ResponseWriter, r *http.Request, user *models.User) {
	id, err := gameID(r)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	admins, err := h.games.RemoveGameAdmin(r.Context(), user, id, chi.URLParam(r, "username"))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "admin removed", admins)
}

func (h *Handler) AvailableVersions(w http.ResponseWriter, r *http.Request, user *models.User) {
	versions, err := h.versions.Versions(r.Context())
	if err != nil {
		h.HandleServiceError(w, r, apperr.Wrap(apperr.Runtime, "Could not list versions", err))
		return
	}
	h.ok(w, http.StatusOK, "ok", versions)
}
