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

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cfrt-dev/kube-ctf/internal/store"
	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeStore struct {
	challenges map[int64]*store.Challenge
	instances  map[string]*store.RunningInstance
	submits    []store.Submission

	tx        *fakeTx
	insertErr error
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		challenges: map[int64]*store.Challenge{},
		instances:  map[string]*store.RunningInstance{},
	}
}

func (f *fakeStore) Begin(ctx context.Context) (store.Tx, error) {
	f.tx = &fakeTx{commitErr: f.commitErr}
	return f.tx, nil
}

func (f *fakeStore) GetChallenge(ctx context.Context, id int64) (*store.Challenge, error) {
	ch, ok := f.challenges[id]
	if !ok {
		return nil, apperr.NotFound("No challenge was found with that id.")
	}
	return ch, nil
}

func (f *fakeStore) UserInstances(ctx context.Context, tx store.Tx, userID int64) ([]string, error) {
	var ids []string
	for id, inst := range f.instances {
		if inst.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) InsertInstance(ctx context.Context, tx store.Tx, inst *store.RunningInstance) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	inst.StartTime = time.Now()
	inst.EndTime = inst.StartTime.Add(time.Hour)
	copied := *inst
	f.instances[inst.ID] = &copied
	return nil
}

func (f *fakeStore) InstanceOwner(ctx context.Context, tx store.Tx, instanceID string) (int64, error) {
	inst, ok := f.instances[instanceID]
	if !ok {
		return 0, apperr.NotFound("No running instance found with this ID.")
	}
	return inst.UserID, nil
}

func (f *fakeStore) DeleteInstanceTx(ctx context.Context, tx store.Tx, instanceID string) error {
	delete(f.instances, instanceID)
	return nil
}

func (f *fakeStore) DeleteInstance(ctx context.Context, instanceID string) error {
	delete(f.instances, instanceID)
	return nil
}

func (f *fakeStore) InstanceForSubmit(ctx context.Context, instanceID string, userID int64) (*store.RunningInstance, error) {
	inst, ok := f.instances[instanceID]
	if !ok || inst.UserID != userID {
		return nil, apperr.NotFound("No running instance found with this ID.")
	}
	return inst, nil
}

func (f *fakeStore) AddSubmission(ctx context.Context, sub *store.Submission) error {
	f.submits = append(f.submits, *sub)
	return nil
}

type fakeIndex struct {
	entries   map[string]int64
	setErr    error
	existsErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: map[string]int64{}}
}

func (f *fakeIndex) Exists(ctx context.Context, instanceID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.entries[instanceID]
	return ok, nil
}

func (f *fakeIndex) Set(ctx context.Context, instanceID string, userID int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[instanceID] = userID
	return nil
}

func (f *fakeIndex) Remove(ctx context.Context, instanceID string) error {
	delete(f.entries, instanceID)
	return nil
}

type fakeProvider struct {
	created   []string
	deleted   []string
	createErr error
}

func (f *fakeProvider) CreateInstance(ctx context.Context, spec []challenge.Container, instanceID string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, instanceID)
	return nil
}

func (f *fakeProvider) DeleteInstance(ctx context.Context, instanceID string) error {
	f.deleted = append(f.deleted, instanceID)
	return nil
}

func webChallenge(id int64) *store.Challenge {
	return &store.Challenge{
		ID:   id,
		Name: "web-intro",
		Flag: "CTF{hello}",
		Deploy: &challenge.DeploySpec{
			Containers: []challenge.Container{{
				Image: "nginx:alpine",
				Name:  "web",
				Ports: []challenge.Port{{Number: 80, Protocol: challenge.ProtocolHTTP}},
			}},
		},
	}
}

func newService(st *fakeStore, idx *fakeIndex, prov *fakeProvider) *Service {
	return New(st, idx, prov, "tasks.cfrt.dev")
}

func TestDeploySuccess(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	idx := newFakeIndex()
	prov := &fakeProvider{}

	dep, err := newService(st, idx, prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	if len(dep.ID) != 10 {
		t.Errorf("instance id %q, want 10 characters", dep.ID)
	}
	if len(dep.Links) != 1 {
		t.Fatalf("got %d links, want 1", len(dep.Links))
	}
	want := "80-web-" + dep.ID + ".tasks.cfrt.dev"
	if dep.Links[0].URL != want {
		t.Errorf("link URL = %q, want %q", dep.Links[0].URL, want)
	}

	if len(prov.created) != 1 || prov.created[0] != dep.ID {
		t.Errorf("provider created %v, want [%s]", prov.created, dep.ID)
	}
	if _, ok := st.instances[dep.ID]; !ok {
		t.Error("running instance row was not inserted")
	}
	if _, ok := idx.entries[dep.ID]; !ok {
		t.Error("index entry was not set")
	}
	if !st.tx.committed {
		t.Error("deploy transaction was not committed")
	}
	if st.instances[dep.ID].Flag != "CTF{hello}" {
		t.Errorf("flag snapshot = %q, want challenge flag", st.instances[dep.ID].Flag)
	}
}

func TestDeployDynamicFlagSnapshot(t *testing.T) {
	ch := webChallenge(1)
	ch.DynamicFlag = true
	ch.Flag = `CTF{{"{"}}{{.InstanceID}}{{"}"}}`

	st := newFakeStore()
	st.challenges[1] = ch
	prov := &fakeProvider{}

	dep, err := newService(st, newFakeIndex(), prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	want := "CTF{" + dep.ID + "}"
	if got := st.instances[dep.ID].Flag; got != want {
		t.Errorf("flag snapshot = %q, want %q", got, want)
	}
}

func TestDeployUnknownChallenge(t *testing.T) {
	st := newFakeStore()
	_, err := newService(st, newFakeIndex(), &fakeProvider{}).Deploy(context.Background(), 99, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Deploy() error kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}

func TestDeployHiddenChallenge(t *testing.T) {
	ch := webChallenge(1)
	ch.Hidden = true
	st := newFakeStore()
	st.challenges[1] = ch
	svc := newService(st, newFakeIndex(), &fakeProvider{})

	if _, err := svc.Deploy(context.Background(), 1, Identity{UserID: 7}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("hidden challenge for plain user: kind = %v, want KindNotFound", apperr.KindOf(err))
	}
	if _, err := svc.Deploy(context.Background(), 1, Identity{UserID: 7, Admin: true}); err != nil {
		t.Errorf("hidden challenge for admin: error = %v, want nil", err)
	}
}

func TestDeploySecondInstanceConflicts(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 7}

	_, err := newService(st, newFakeIndex(), &fakeProvider{}).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("Deploy() error kind = %v, want KindConflict", apperr.KindOf(err))
	}
}

func TestDeployNoDeploySpec(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = &store.Challenge{ID: 1, Name: "pen-and-paper", Flag: "CTF{x}"}

	_, err := newService(st, newFakeIndex(), &fakeProvider{}).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("Deploy() error kind = %v, want KindInternal", apperr.KindOf(err))
	}
}

func TestDeployProviderFailureTouchesNoState(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	idx := newFakeIndex()
	prov := &fakeProvider{createErr: apperr.New(apperr.KindDeploy, "failed to deploy instance")}

	_, err := newService(st, idx, prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindDeploy {
		t.Fatalf("Deploy() error kind = %v, want KindDeploy", apperr.KindOf(err))
	}
	if len(st.instances) != 0 {
		t.Error("instance row inserted despite provider failure")
	}
	if len(idx.entries) != 0 {
		t.Error("index entry set despite provider failure")
	}
	if !st.tx.rolledBack {
		t.Error("transaction was not rolled back")
	}
}

func TestDeployInsertFailureCompensatesProvider(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	st.insertErr = apperr.New(apperr.KindDatabase, "failed to insert running instance")
	prov := &fakeProvider{}

	_, err := newService(st, newFakeIndex(), prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindDatabase {
		t.Fatalf("Deploy() error kind = %v, want KindDatabase", apperr.KindOf(err))
	}
	if len(prov.deleted) != 1 {
		t.Errorf("provider deletions = %v, want one compensation delete", prov.deleted)
	}
	if !st.tx.rolledBack {
		t.Error("transaction was not rolled back")
	}
}

func TestDeployIndexFailureCompensatesProvider(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	idx := newFakeIndex()
	idx.setErr = apperr.New(apperr.KindIndex, "failed to write index entry")
	prov := &fakeProvider{}

	_, err := newService(st, idx, prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindIndex {
		t.Fatalf("Deploy() error kind = %v, want KindIndex", apperr.KindOf(err))
	}
	if len(prov.deleted) != 1 {
		t.Errorf("provider deletions = %v, want one compensation delete", prov.deleted)
	}
	if !st.tx.rolledBack {
		t.Error("transaction was not rolled back")
	}
}

func TestDeployCommitFailureCompensatesProvider(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	st.commitErr = errors.New("connection reset")
	idx := newFakeIndex()
	prov := &fakeProvider{}

	_, err := newService(st, idx, prov).Deploy(context.Background(), 1, Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindDatabase {
		t.Fatalf("Deploy() error kind = %v, want KindDatabase", apperr.KindOf(err))
	}
	if len(prov.deleted) != 1 {
		t.Errorf("provider deletions = %v, want one compensation delete", prov.deleted)
	}
	if len(idx.entries) != 1 {
		t.Errorf("index entries = %d, want the entry left for out-of-band reconciliation", len(idx.entries))
	}
}

func TestDeployIndexReadErrorDoesNotBlockMinting(t *testing.T) {
	st := newFakeStore()
	st.challenges[1] = webChallenge(1)
	idx := newFakeIndex()
	idx.existsErr = apperr.Wrap(apperr.KindIndex, "failed to check index entry", errors.New("connection refused"))

	dep, err := newService(st, idx, &fakeProvider{}).Deploy(context.Background(), 1, Identity{UserID: 7})
	if err != nil {
		t.Fatalf("Deploy() error = %v, want id minted despite index read failure", err)
	}
	if len(dep.ID) != 10 {
		t.Errorf("instance id %q, want 10 characters", dep.ID)
	}
}

func TestDestroy(t *testing.T) {
	st := newFakeStore()
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 7}
	idx := newFakeIndex()
	idx.entries["a1b2c3d4e5"] = 7
	prov := &fakeProvider{}

	if err := newService(st, idx, prov).Destroy(context.Background(), "a1b2c3d4e5", Identity{UserID: 7}); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if len(st.instances) != 0 {
		t.Error("instance row still present after destroy")
	}
	if len(idx.entries) != 0 {
		t.Error("index entry still present after destroy")
	}
	if len(prov.deleted) != 1 {
		t.Errorf("provider deletions = %v, want one", prov.deleted)
	}
}

func TestDestroyForeignInstance(t *testing.T) {
	st := newFakeStore()
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 8}
	svc := newService(st, newFakeIndex(), &fakeProvider{})

	err := svc.Destroy(context.Background(), "a1b2c3d4e5", Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("Destroy() error kind = %v, want KindForbidden", apperr.KindOf(err))
	}
	if _, ok := st.instances["a1b2c3d4e5"]; !ok {
		t.Error("foreign instance was removed")
	}
}

func TestDestroyUnknownInstance(t *testing.T) {
	err := newService(newFakeStore(), newFakeIndex(), &fakeProvider{}).
		Destroy(context.Background(), "a1b2c3d4e5", Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Destroy() error kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}

func TestSubmitCorrectFlag(t *testing.T) {
	st := newFakeStore()
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{
		ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 7, Flag: "CTF{hello}",
	}
	idx := newFakeIndex()
	idx.entries["a1b2c3d4e5"] = 7
	prov := &fakeProvider{}

	correct, err := newService(st, idx, prov).Submit(context.Background(), "a1b2c3d4e5", "CTF{hello}", Identity{UserID: 7})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !correct {
		t.Error("Submit() = false, want correct")
	}
	if len(st.instances) != 0 {
		t.Error("instance row still present after correct submit")
	}
	if len(idx.entries) != 0 {
		t.Error("index entry still present after correct submit")
	}
	if len(prov.deleted) != 1 {
		t.Errorf("provider deletions = %v, want one", prov.deleted)
	}
	if len(st.submits) != 1 || !st.submits[0].IsCorrect {
		t.Errorf("submissions = %+v, want one correct record", st.submits)
	}
}

func TestSubmitWrongFlag(t *testing.T) {
	st := newFakeStore()
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{
		ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 7, Flag: "CTF{hello}",
	}
	prov := &fakeProvider{}

	correct, err := newService(st, newFakeIndex(), prov).Submit(context.Background(), "a1b2c3d4e5", "CTF{nope}", Identity{UserID: 7})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if correct {
		t.Error("Submit() = true, want incorrect")
	}
	if _, ok := st.instances["a1b2c3d4e5"]; !ok {
		t.Error("instance removed on incorrect submit")
	}
	if len(prov.deleted) != 0 {
		t.Errorf("provider deletions = %v, want none", prov.deleted)
	}
	if len(st.submits) != 1 || st.submits[0].IsCorrect {
		t.Errorf("submissions = %+v, want one incorrect record", st.submits)
	}
}

func TestSubmitForeignInstanceNotFound(t *testing.T) {
	st := newFakeStore()
	st.instances["a1b2c3d4e5"] = &store.RunningInstance{
		ID: "a1b2c3d4e5", ChallengeID: 1, UserID: 8, Flag: "CTF{hello}",
	}

	_, err := newService(st, newFakeIndex(), &fakeProvider{}).Submit(context.Background(), "a1b2c3d4e5", "CTF{hello}", Identity{UserID: 7})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Submit() error kind = %v, want KindNotFound", apperr.KindOf(err))
	}
	if len(st.submits) != 0 {
		t.Errorf("submissions = %+v, want none for unknown instance", st.submits)
	}
}
