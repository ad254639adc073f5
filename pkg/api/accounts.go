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

	"github.com/cfrt-dev/kube-ctf/internal/auth"
	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
)

// RegisterRequest is the body of an account registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of a login attempt.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// Register handles POST /api/accounts/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var form RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if form.Username == "" || form.Email == "" || form.Password == "" {
		h.writeStatus(w, http.StatusBadRequest, "Username, email and password are required.")
		return
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	userID, err := h.store.CreateUser(r.Context(), form.Username, form.Email, hash)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.auth.GenerateToken(userID, auth.RoleUser)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, TokenResponse{Token: token})
}

// Login handles POST /api/accounts/login. Unknown email and wrong
// password are indistinguishable to the caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var form LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	user, err := h.store.UserByEmail(r.Context(), form.Email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			h.writeError(w, apperr.Forbidden("Wrong email or password."))
			return
		}
		h.writeError(w, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, form.Password) {
		h.writeError(w, apperr.Forbidden("Wrong email or password."))
		return
	}

	token, err := h.auth.GenerateToken(user.ID, auth.Role(user.Role))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}
