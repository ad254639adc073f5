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

// Package flaggen renders per-instance flags for challenges that use
// dynamic flags. The challenge's stored flag doubles as a Go
// text/template; a static string renders to itself.
package flaggen

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"text/template"
)

// Context holds the variables a flag template may reference.
type Context struct {
	InstanceID   string
	UserID       string
	ChallengeID  string
	RandomString string
}

// DefaultTemplate is used when a dynamic-flag challenge stores an
// empty flag. Literal braces must live outside template actions.
const DefaultTemplate = `CTF{{"{"}}{{.ChallengeID}}_{{.UserID}}_{{.RandomString}}{{"}"}}`

// Generate renders a per-instance flag from tmpl. Available fields:
//   - .InstanceID: the instance id
//   - .UserID: the deploying user's id
//   - .ChallengeID: the challenge id
//   - .RandomString: a 32-char cryptographically secure hex string
func Generate(tmpl, instanceID string, userID, challengeID int64) (string, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	ctx := Context{
		InstanceID:   instanceID,
		UserID:       strconv.FormatInt(userID, 10),
		ChallengeID:  strconv.FormatInt(challengeID, 10),
		RandomString: hex.EncodeToString(randomBytes),
	}

	t, err := template.New("flag").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse flag template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to execute flag template: %w", err)
	}

	return buf.String(), nil
}
