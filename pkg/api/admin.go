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

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cfrt-dev/kube-ctf/internal/auth"
	"github.com/cfrt-dev/kube-ctf/internal/store"
	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

// AddChallengeRequest is the body of an admin challenge creation.
type AddChallengeRequest struct {
	Name        string                `json:"name"`
	Flag        string                `json:"flag"`
	Author      string                `json:"author"`
	Category    string                `json:"category"`
	Description string                `json:"description"`
	Points      int32                 `json:"points"`
	Hidden      bool                  `json:"hidden"`
	DynamicFlag bool                  `json:"dynamic_flag"`
	Hints       []string              `json:"hints"`
	Deploy      *challenge.DeploySpec `json:"deploy,omitempty"`
}

// AddChallengeResponse returns the id of a freshly created challenge.
type AddChallengeResponse struct {
	ID int64 `json:"id"`
}

// CreateChallenge handles POST /api/admin/challenges/new. The deploy
// spec is validated here, before storage, so deploy time never sees a
// malformed one. Subdomain length is checked against a worst-case
// instance id.
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ClaimsFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if claims.Role != auth.RoleAdmin {
		h.writeError(w, apperr.Forbidden("Admin role required."))
		return
	}

	var form AddChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if form.Name == "" || form.Flag == "" || form.Category == "" {
		h.writeStatus(w, http.StatusBadRequest, "Name, flag and category are required.")
		return
	}

	if form.Deploy != nil {
		if err := form.Deploy.Validate(); err != nil {
			h.writeStatus(w, http.StatusBadRequest, err.Error())
			return
		}

		widestID := strings.Repeat("a", naming.IDLength)
		if err := naming.ValidateSubdomains(form.Deploy.Containers, widestID, h.cfg.MaxSubdomainLength); err != nil {
			h.writeStatus(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := h.store.CreateChallenge(r.Context(), &store.Challenge{
		Name:        form.Name,
		Flag:        form.Flag,
		Author:      form.Author,
		Category:    form.Category,
		Description: form.Description,
		Points:      form.Points,
		Hidden:      form.Hidden,
		DynamicFlag: form.DynamicFlag,
		Hints:       form.Hints,
		Deploy:      form.Deploy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, AddChallengeResponse{ID: id})
}
