package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/service"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Users interface {
	Register(ctx context.Context, username, password string) (*service.SessionToken, error)
	Login(ctx context.Context, username, password string) (*service.SessionToken, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type Games interface {
	ListGames(ctx context.Context, caller *models.User) ([]*models.Game, error)
	GetGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error)
	CreateGame(ctx context.Context, caller *models.User, in service.CreateGameInput) (*models.Game, error)
	UpdateGame(ctx context.Context, caller *models.User, gameID int64, in service.UpdateGameInput) (*models.Game, error)
	DeleteGame(ctx context.Context, caller *models.User, gameID int64) error
	StartGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error)
	StopGame(ctx context.Context, caller *models.User, gameID int64) (*models.Game, error)
	GameAdmins(ctx context.Context, caller *models.User, gameID int64) ([]string, error)
	AddGameAdmin(ctx context.Context, caller *models.User, gameID int64, username string) ([]string, error)
	RemoveGameAdmin(ctx context.Context, caller *models.User, gameID int64, username string) ([]string, error)
}

type Versions interface {
	Versions(ctx context.Context) ([]string, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	users     Users
	games     Games
	versions  Versions
	debug     bool
	port      string
}

func NewHandler(users Users, games Games, versions Versions, port string, debug bool) *Handler {
	return &Handler{
		users:    users,
		games:    games,
		versions: versions,
		port:     port,
		debug:    debug,
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) ok(w http.ResponseWriter, code int, message string, data interface{}) {
	h.CreateResponse(w, Response{Message: message, Code: code, Data: data})
}

// StatusFor maps every failure kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated, apperr.InvalidSession:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Duplicate, apperr.InvalidState:
		return http.StatusConflict
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.AllocationExhausted:
		return http.StatusServiceUnavailable
	case apperr.Runtime:
		return http.StatusBadGateway
	case apperr.Unknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// HandleServiceError writes err as a response. Runtime and unknown failures
// are logged in full and only described in detail when debugging.
func (h *Handler) HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	message := kind.Message()

	var e *apperr.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	switch kind {
	case apperr.Runtime, apperr.Unknown:
		log.WithError(err).WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
		message = kind.Message()
		if h.debug {
			message = err.Error()
		}
	default:
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path, "kind": kind}).Debug(message)
	}

	h.CreateResponse(w, Response{Message: message, Code: StatusFor(kind), Error: kind.String()})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *models.User)

// authed resolves the bearer token before anything else runs and hands the
// user to next.
func (h *Handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			h.HandleServiceError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "Malformed request body", err)
	}
	return nil
}

func gameID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.Validation, "Invalid game id")
	}
	return id, nil
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.ok(w, http.StatusOK, "game service is running at port "+h.port, nil)
}
