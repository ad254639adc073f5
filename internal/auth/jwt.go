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

// Package auth issues and verifies the bearer tokens that identify
// callers. The signing secret is resolved once at startup and never
// regenerated afterwards.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
)

const tokenExpiry = 24 * time.Hour

// Role is the access level attached to a token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims is the payload carried by a token.
type Claims struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
	Iat    int64 `json:"iat"`
	Exp    int64 `json:"exp"`
}

// Service signs and verifies HS256 tokens.
type Service struct {
	secret []byte
}

// New creates a token service. When secret is empty a random one is
// generated, which invalidates outstanding tokens on restart.
func New(secret string) *Service {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("auth: failed to generate signing secret: %v", err)
		}
		log.Printf("auth: JWT_SECRET not set, generated an ephemeral signing secret")
		return &Service{secret: buf}
	}
	return &Service{secret: []byte(secret)}
}

// GenerateToken creates a signed token for the given user.
func (s *Service) GenerateToken(userID int64, role Role) (string, error) {
	header := map[string]string{
		"alg": "HS256",
		"typ": "JWT",
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		Iat:    now.Unix(),
		Exp:    now.Add(tokenExpiry).Unix(),
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to encode token header", err)
	}
	claimBytes, err := json.Marshal(claims)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to encode token claims", err)
	}

	message := base64.RawURLEncoding.EncodeToString(headerBytes) +
		"." + base64.RawURLEncoding.EncodeToString(claimBytes)

	return message + "." + base64.RawURLEncoding.EncodeToString(s.sign(message)), nil
}

// ValidateToken verifies the signature and expiry of a token and
// returns its claims.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, apperr.New(apperr.KindInvalidToken, "Malformed authorization token.")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidToken, "Malformed authorization token.")
	}
	if !hmac.Equal(signature, s.sign(parts[0]+"."+parts[1])) {
		return nil, apperr.New(apperr.KindInvalidToken, "Invalid authorization token.")
	}

	claimBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidToken, "Malformed authorization token.")
	}

	var claims Claims
	if err := json.Unmarshal(claimBytes, &claims); err != nil {
		return nil, apperr.New(apperr.KindInvalidToken, "Malformed authorization token.")
	}
	if time.Now().Unix() >= claims.Exp {
		return nil, apperr.New(apperr.KindInvalidToken, "Authorization token expired.")
	}

	return &claims, nil
}

// ClaimsFromRequest extracts and verifies the bearer token of a
// request.
func (s *Service) ClaimsFromRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, apperr.Forbidden("No authorization token was found.")
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, apperr.New(apperr.KindInvalidToken, "Wrong authorization Bearer format.")
	}

	return s.ValidateToken(token)
}

func (s *Service) sign(message string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
