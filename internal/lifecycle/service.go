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

// Package lifecycle coordinates the relational store, the instance
// index and the provisioning provider through the deploy, destroy and
// submit flows. The relational store is the authority; the index is a
// best-effort accelerator and the provider is reconciled with the
// store through manual compensation, never a distributed transaction.
package lifecycle

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cfrt-dev/kube-ctf/internal/store"
	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/flaggen"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
	"github.com/cfrt-dev/kube-ctf/pkg/provider"
)

// Store is the slice of the relational store the controller uses.
type Store interface {
	Begin(ctx context.Context) (store.Tx, error)
	GetChallenge(ctx context.Context, id int64) (*store.Challenge, error)
	UserInstances(ctx context.Context, tx store.Tx, userID int64) ([]string, error)
	InsertInstance(ctx context.Context, tx store.Tx, inst *store.RunningInstance) error
	InstanceOwner(ctx context.Context, tx store.Tx, instanceID string) (int64, error)
	DeleteInstanceTx(ctx context.Context, tx store.Tx, instanceID string) error
	DeleteInstance(ctx context.Context, instanceID string) error
	InstanceForSubmit(ctx context.Context, instanceID string, userID int64) (*store.RunningInstance, error)
	AddSubmission(ctx context.Context, sub *store.Submission) error
}

// Index is the key-value instance index.
type Index interface {
	Exists(ctx context.Context, instanceID string) (bool, error)
	Set(ctx context.Context, instanceID string, userID int64) error
	Remove(ctx context.Context, instanceID string) error
}

// Identity is the authenticated caller of a lifecycle operation.
type Identity struct {
	UserID int64
	Admin  bool
}

// Deployment is what a successful deploy returns to the caller.
type Deployment struct {
	ID        string        `json:"id"`
	Links     []naming.Link `json:"links"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

// Service runs the per-user instance state machine.
type Service struct {
	store      Store
	index      Index
	provider   provider.Provider
	baseDomain string
}

// New assembles a lifecycle service.
func New(st Store, idx Index, prov provider.Provider, baseDomain string) *Service {
	return &Service{
		store:      st,
		index:      idx,
		provider:   prov,
		baseDomain: baseDomain,
	}
}

// Deploy provisions a fresh instance of the challenge for the caller
// and returns its connection links. A user may hold at most one
// running instance at a time.
func (s *Service) Deploy(ctx context.Context, challengeID int64, caller Identity) (*Deployment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ch, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.Hidden && !caller.Admin {
		return nil, apperr.NotFound("No challenge was found with that id.")
	}

	running, err := s.store.UserInstances(ctx, tx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if len(running) > 0 {
		return nil, apperr.Newf(apperr.KindConflict,
			"You already have running challenge - %s.", strings.Join(running, ","))
	}

	if ch.Deploy == nil || len(ch.Deploy.Containers) == 0 {
		return nil, apperr.New(apperr.KindInternal, "No deploy configuration found for challenge.")
	}

	instanceID := s.mintInstanceID(ctx)

	flag := ch.Flag
	if ch.DynamicFlag {
		flag, err = flaggen.Generate(ch.Flag, instanceID, caller.UserID, ch.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to generate instance flag", err)
		}
	}

	if err := s.provider.CreateInstance(ctx, ch.Deploy.Containers, instanceID); err != nil {
		return nil, err
	}

	inst := store.RunningInstance{
		ID:          instanceID,
		ChallengeID: ch.ID,
		UserID:      caller.UserID,
		Flag:        flag,
	}
	if err := s.store.InsertInstance(ctx, tx, &inst); err != nil {
		s.compensate(ctx, instanceID)
		return nil, err
	}

	if err := s.index.Set(ctx, instanceID, caller.UserID); err != nil {
		s.compensate(ctx, instanceID)
		return nil, err
	}

	// The index entry set above is not retracted when the commit
	// fails; the entry expires or is reconciled out of band.
	if err := tx.Commit(ctx); err != nil {
		s.compensate(ctx, instanceID)
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to commit deploy transaction", err)
	}

	return &Deployment{
		ID:        instanceID,
		Links:     naming.ContainerLinks(s.baseDomain, instanceID, ch.Deploy.Containers),
		StartTime: inst.StartTime,
		EndTime:   inst.EndTime,
	}, nil
}

// Destroy tears down the caller's instance and removes its record and
// index entry.
func (s *Service) Destroy(ctx context.Context, instanceID string, caller Identity) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	owner, err := s.store.InstanceOwner(ctx, tx, instanceID)
	if err != nil {
		return err
	}
	if owner != caller.UserID {
		return apperr.Forbidden("You are not allowed to delete this challenge.")
	}

	if err := s.provider.DeleteInstance(ctx, instanceID); err != nil {
		log.Printf("lifecycle: failed to delete instance %s from provider: %v", instanceID, err)
	}

	if err := s.store.DeleteInstanceTx(ctx, tx, instanceID); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, instanceID); err != nil {
		log.Printf("lifecycle: failed to remove index entry for %s: %v", instanceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "failed to commit destroy transaction", err)
	}
	return nil
}

// Submit checks a flag against the caller's instance, records the
// attempt and tears the instance down when the flag is correct. The
// bool result reports correctness.
func (s *Service) Submit(ctx context.Context, instanceID, flag string, caller Identity) (bool, error) {
	inst, err := s.store.InstanceForSubmit(ctx, instanceID, caller.UserID)
	if err != nil {
		return false, err
	}

	correct := flag == inst.Flag

	if err := s.store.AddSubmission(ctx, &store.Submission{
		UserID:      caller.UserID,
		ChallengeID: inst.ChallengeID,
		IsCorrect:   correct,
		Answer:      flag,
	}); err != nil {
		return false, err
	}

	if !correct {
		return false, nil
	}

	if err := s.provider.DeleteInstance(ctx, instanceID); err != nil {
		log.Printf("lifecycle: failed to delete instance %s from provider: %v", instanceID, err)
	}
	if err := s.store.DeleteInstance(ctx, instanceID); err != nil {
		return true, err
	}
	if err := s.index.Remove(ctx, instanceID); err != nil {
		log.Printf("lifecycle: failed to remove index entry for %s: %v", instanceID, err)
	}

	return true, nil
}

// mintInstanceID draws candidate ids until the index reports one free.
// An index read error counts as free: the id space makes a real
// collision vanishingly unlikely and the insert's uniqueness check is
// the final arbiter.
func (s *Service) mintInstanceID(ctx context.Context) string {
	for {
		id := naming.NewInstanceID(naming.IDLength)
		taken, err := s.index.Exists(ctx, id)
		if err != nil {
			log.Printf("lifecycle: index lookup for candidate id %s failed: %v", id, err)
			return id
		}
		if !taken {
			return id
		}
	}
}

// compensate best-effort removes provider-side resources after a
// failure between provisioning and commit.
func (s *Service) compensate(ctx context.Context, instanceID string) {
	if err := s.provider.DeleteInstance(ctx, instanceID); err != nil {
		log.Printf("lifecycle: compensation delete of instance %s failed: %v", instanceID, err)
	}
}
