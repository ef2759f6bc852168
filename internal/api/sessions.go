package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/identity"
	"github.com/ashureev/prdesk/internal/orchestrator"
	"github.com/ashureev/prdesk/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// DiscardFunc is called after a session is discarded.
type DiscardFunc func(ownerID, sessionID string)

// SessionHandler serves session, message and artifact endpoints.
type SessionHandler struct {
	mgr       *orchestrator.Manager
	svc       *orchestrator.Service
	repo      store.Repository
	onDiscard DiscardFunc
}

// NewSessionHandler creates a new session handler. repo may be nil, in which
// case profile seeding and the artifact archive are unavailable.
func NewSessionHandler(mgr *orchestrator.Manager, svc *orchestrator.Service, repo store.Repository, onDiscard DiscardFunc) *SessionHandler {
	return &SessionHandler{mgr: mgr, svc: svc, repo: repo, onDiscard: onDiscard}
}

// RegisterRoutes registers session routes. limit, when non-nil, wraps the
// routes that reach the inference provider.
func (h *SessionHandler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Discard)
			r.With(limit).Post("/messages", h.SubmitMessage)
			r.With(limit).Post("/artifacts", h.Generate)
			r.Get("/artifacts", h.ListArtifacts)
		})
	})
	r.Get("/api/artifacts", h.ListArchived)
}

type createSessionRequest struct {
	ProfileID string `json:"profileId"`
}

// Create starts a new session, optionally seeded from an organization profile.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())

	var req createSessionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	var seed domain.Context
	if req.ProfileID != "" {
		if h.repo == nil {
			Error(w, http.StatusNotFound, "profile not found")
			return
		}
		profile, err := h.repo.GetProfile(r.Context(), ownerID, req.ProfileID)
		if err != nil {
			slog.Error("Failed to load profile", "error", err, "owner_id", ownerID, "profile_id", req.ProfileID)
			Error(w, http.StatusInternalServerError, "failed to load profile")
			return
		}
		if profile == nil {
			Error(w, http.StatusNotFound, "profile not found")
			return
		}
		seed = profile.Seed()
	}

	sess := h.mgr.Create(ownerID, seed)
	slog.Info("Session created",
		"session_id", sess.ID,
		"owner_id", ownerID,
		"profile_id", req.ProfileID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	JSON(w, http.StatusCreated, sess.Snapshot())
}

// List returns the owner's live sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.mgr.List(identity.OwnerIDFromContext(r.Context())))
}

// Get returns a session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Snapshot())
}

// Discard ends a session.
func (h *SessionHandler) Discard(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	if !h.mgr.Discard(ownerID, sessionID) {
		WriteError(w, orchestrator.ErrSessionNotFound)
		return
	}
	if h.onDiscard != nil {
		h.onDiscard(ownerID, sessionID)
	}
	slog.Info("Session discarded",
		"session_id", sessionID,
		"owner_id", ownerID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	*orchestrator.Reply
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// SubmitMessage runs one consultation turn. A degraded reply is still a 200:
// the session stays usable and the fallback text is meant for display.
func (h *SessionHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.svc.SubmitUtterance(r.Context(), sess, req.Message)
	if reply == nil {
		WriteError(w, err)
		return
	}

	resp := messageResponse{Reply: reply}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = ErrorKind(err)
	}
	JSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Type         string `json:"type"`
	Requirements string `json:"requirements"`
}

// Generate runs one generation call and returns the recorded artifact.
func (h *SessionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	artifact, err := h.svc.RequestGeneration(r.Context(), sess, req.Type, req.Requirements)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, artifact)
}

// ListArtifacts returns the session's artifacts in insertion order.
func (h *SessionHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	artifacts := h.svc.ListArtifacts(sess)
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	JSON(w, http.StatusOK, artifacts)
}

// ListArchived returns the owner's archived artifacts across sessions,
// including discarded ones.
func (h *SessionHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, []domain.Artifact{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	artifacts, err := h.repo.ListArtifacts(r.Context(), ownerID, limit)
	if err != nil {
		slog.Error("Failed to list archived artifacts", "error", err, "owner_id", ownerID)
		Error(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	JSON(w, http.StatusOK, artifacts)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*orchestrator.Session, bool) {
	sess, err := h.mgr.Get(identity.OwnerIDFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		if !errors.Is(err, orchestrator.ErrSessionNotFound) {
			slog.Error("Failed to look up session", "error", err)
		}
		WriteError(w, err)
		return nil, false
	}
	return sess, true
}
