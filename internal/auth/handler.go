package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rigflow/rigflow/internal/platform/httpx"
	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
)

// Handler wires HTTP endpoints for persona sessions.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.me)
}

type loginRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Name   string `json:"name" validate:"max=128"`
	Role   string `json:"role" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, fieldErrs[0].Field()))
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	persona, err := h.service.Resolve(req.UserID, req.Name, req.Role)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		if h.logger != nil {
			h.logger.Error("session missing during login")
		}
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	sess.SignIn(persona.UserID, persona.Name, string(persona.Role))
	if h.logger != nil {
		h.logger.Info("persona signed in", slog.String("user", persona.UserID), slog.String("role", string(persona.Role)))
	}
	httpx.JSON(w, http.StatusOK, h.service.Profile(persona))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess.User() == "" || sess.Role() == "" {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
		return
	}
	role, err := rbac.ParseRole(sess.Role())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, err))
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Profile(Persona{UserID: sess.User(), Name: sess.UserName(), Role: role}))
}
