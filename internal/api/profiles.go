package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/identity"
	"github.com/ashureev/prdesk/internal/store"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler serves organization profile endpoints.
type ProfileHandler struct {
	repo store.Repository
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(repo store.Repository) *ProfileHandler {
	return &ProfileHandler{repo: repo}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/profiles", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{profileID}", h.Get)
		r.Put("/{profileID}", h.Put)
	})
}

type profileResponse struct {
	*domain.Profile
	Shared bool `json:"shared"`
}

func toProfileResponse(p *domain.Profile) profileResponse {
	return profileResponse{Profile: p, Shared: p.IsShared()}
}

// List returns the owner's profiles followed by shared ones.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	profiles, err := h.repo.ListProfiles(r.Context(), ownerID)
	if err != nil {
		slog.Error("Failed to list profiles", "error", err, "owner_id", ownerID)
		Error(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	out := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toProfileResponse(p))
	}
	JSON(w, http.StatusOK, out)
}

// Get returns one profile visible to the owner.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	profileID := chi.URLParam(r, "profileID")
	p, err := h.repo.GetProfile(r.Context(), ownerID, profileID)
	if err != nil {
		slog.Error("Failed to load profile", "error", err, "owner_id", ownerID, "profile_id", profileID)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if p == nil {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}
	JSON(w, http.StatusOK, toProfileResponse(p))
}

type putProfileRequest struct {
	Name  string         `json:"name"`
	Facts map[string]any `json:"facts"`
}

// Put creates or replaces the owner's profile. Shared profiles are read-only
// through the API; writing the same ID creates an owner-scoped override.
func (h *ProfileHandler) Put(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	profileID := strings.TrimSpace(chi.URLParam(r, "profileID"))
	if profileID == "" {
		Error(w, http.StatusBadRequest, "profile id is required")
		return
	}

	var req putProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	p := &domain.Profile{ID: profileID, OwnerID: ownerID, Name: req.Name, Facts: req.Facts}
	if existing, err := h.repo.GetProfile(r.Context(), ownerID, profileID); err == nil && existing != nil && existing.OwnerID == ownerID {
		p.CreatedAt = existing.CreatedAt
	}
	if err := h.repo.UpsertProfile(r.Context(), p); err != nil {
		slog.Error("Failed to save profile", "error", err, "owner_id", ownerID, "profile_id", profileID)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	slog.Info("Profile saved", "owner_id", ownerID, "profile_id", profileID)
	JSON(w, http.StatusOK, toProfileResponse(p))
}
