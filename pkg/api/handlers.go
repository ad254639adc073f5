/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api exposes the platform over HTTP. Handlers are thin: they
// decode the request, resolve the caller's identity and delegate to
// the lifecycle service or the store.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cfrt-dev/kube-ctf/internal/auth"
	"github.com/cfrt-dev/kube-ctf/internal/lifecycle"
	"github.com/cfrt-dev/kube-ctf/internal/store"
	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

// Lifecycle is the instance state machine the handlers drive.
type Lifecycle interface {
	Deploy(ctx context.Context, challengeID int64, caller lifecycle.Identity) (*lifecycle.Deployment, error)
	Destroy(ctx context.Context, instanceID string, caller lifecycle.Identity) error
	Submit(ctx context.Context, instanceID, flag string, caller lifecycle.Identity) (bool, error)
}

// Store is the slice of the relational store the handlers use
// directly, bypassing the lifecycle service.
type Store interface {
	ListChallenges(ctx context.Context, userID int64) ([]store.ChallengeSummary, error)
	GetChallengeSummary(ctx context.Context, challengeID, userID int64) (*store.ChallengeSummary, error)
	CreateChallenge(ctx context.Context, ch *store.Challenge) (int64, error)
	CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Config carries the handler-level knobs.
type Config struct {
	BaseDomain         string
	MaxSubdomainLength int
}

// Handler handles HTTP requests for the platform API.
type Handler struct {
	lifecycle Lifecycle
	store     Store
	auth      *auth.Service
	cfg       Config
}

// NewHandler creates a new API handler.
func NewHandler(lc Lifecycle, st Store, authSvc *auth.Service, cfg Config) *Handler {
	return &Handler{
		lifecycle: lc,
		store:     st,
		auth:      authSvc,
		cfg:       cfg,
	}
}

// ChallengeInfo is the public listing view of one challenge. Deploy is
// present only when the caller has a running instance of it.
type ChallengeInfo struct {
	ID          int64                 `json:"id"`
	Name        string                `json:"name"`
	Author      string                `json:"author"`
	Category    string                `json:"category"`
	Description string                `json:"description"`
	Points      int32                 `json:"points"`
	Solved      bool                  `json:"solved"`
	Hints       []string              `json:"hints"`
	Deploy      *lifecycle.Deployment `json:"deploy,omitempty"`
}

// FlagSubmitRequest is the body of a flag submission.
type FlagSubmitRequest struct {
	InstanceID string `json:"instance_id"`
	Flag       string `json:"flag"`
}

// MessageResponse is a plain informational response body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListChallenges handles GET /api/challenges.
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	summaries, err := h.store.ListChallenges(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := make([]ChallengeInfo, 0, len(summaries))
	for i := range summaries {
		response = append(response, h.challengeInfo(&summaries[i]))
	}

	h.writeJSON(w, http.StatusOK, response)
}

// GetChallenge handles GET /api/challenges/{id}, the single-challenge
// view of the listing above.
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	challengeID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Challenge id must be a number.")
		return
	}

	summary, err := h.store.GetChallengeSummary(r.Context(), challengeID, claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.challengeInfo(summary))
}

// challengeInfo converts a store summary into the response shape,
// attaching connection links when the caller has a running instance.
func (h *Handler) challengeInfo(s *store.ChallengeSummary) ChallengeInfo {
	info := ChallengeInfo{
		ID:          s.ID,
		Name:        s.Name,
		Author:      s.Author,
		Category:    s.Category,
		Description: s.Description,
		Points:      s.Points,
		Solved:      s.Solved,
		Hints:       s.Hints,
	}
	if s.Deploy != nil && s.Instance != nil {
		info.Deploy = &lifecycle.Deployment{
			ID:        s.Instance.ID,
			Links:     naming.ContainerLinks(h.cfg.BaseDomain, s.Instance.ID, s.Deploy.Containers),
			StartTime: s.Instance.StartTime,
			EndTime:   s.Instance.EndTime,
		}
	}
	return info
}

// DeployChallenge handles POST /api/challenges/{id}.
func (h *Handler) DeployChallenge(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	challengeID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Challenge id must be a number.")
		return
	}

	deployment, err := h.lifecycle.Deploy(r.Context(), challengeID, callerOf(claims))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, deployment)
}

// DeleteChallenge handles DELETE /api/challenges/{id}, where id is a
// running instance id.
func (h *Handler) DeleteChallenge(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	instanceID := chi.URLParam(r, "id")
	if err := h.lifecycle.Destroy(r.Context(), instanceID, callerOf(claims)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Instance deleted."})
}

// SubmitFlag handles POST /api/challenges/submit.
func (h *Handler) SubmitFlag(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var form FlagSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	correct, err := h.lifecycle.Submit(r.Context(), form.InstanceID, form.Flag, callerOf(claims))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !correct {
		h.writeStatus(w, http.StatusBadRequest, "Wrong flag.")
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Correct flag."})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
}

func callerOf(claims *auth.Claims) lifecycle.Identity {
	return lifecycle.Identity{
		UserID: claims.UserID,
		Admin:  claims.Role == auth.RoleAdmin,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// writeError maps an error to its HTTP status. Internal failure
// detail stays in the log, not the response body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: internal error: %v", err)
	}
	h.writeJSON(w, status, ErrorResponse{Error: apperr.Message(err)})
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}
