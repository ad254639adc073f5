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

// Package store persists the relational source of truth (challenges,
// running instances, submissions, users) and the fast instance-id
// index. The relational store is authoritative; the index is a
// non-authoritative accelerator kept consistent best-effort.
package store

import (
	"time"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

// Challenge is a challenge definition row. Deploy is nil for
// challenges without a deployable part.
type Challenge struct {
	ID          int64
	Name        string
	Flag        string
	Author      string
	Category    string
	Description string
	Points      int32
	Hidden      bool
	DynamicFlag bool
	Hints       []string
	Deploy      *challenge.DeploySpec
}

// RunningInstance is a live challenge environment owned by one user.
// Flag is the snapshot taken at deploy time; later edits to the
// challenge's flag do not affect an already issued instance.
type RunningInstance struct {
	ID          string
	ChallengeID int64
	UserID      int64
	Flag        string
	StartTime   time.Time
	EndTime     time.Time
}

// Submission is one flag-submission attempt. Append-only: written once
// per attempt regardless of outcome, never mutated or deleted.
type Submission struct {
	UserID      int64
	ChallengeID int64
	IsCorrect   bool
	Answer      string
}

// User is an account row. Role is either "user" or "admin".
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         string
}

// ChallengeSummary is the public listing view of a challenge with the
// caller's solved status and running instance, if any.
type ChallengeSummary struct {
	ID          int64
	Name        string
	Author      string
	Category    string
	Description string
	Points      int32
	Hints       []string
	Solved      bool
	Deploy      *challenge.DeploySpec
	Instance    *RunningInstance
}
