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

package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
)

// Index maps live instance ids to their owning user in Redis. An entry
// exists if and only if a running instance should exist for that id;
// it backs collision checks when minting ids and fast existence
// probes.
type Index struct {
	rdb *redis.Client
}

// NewIndex wraps a connected Redis client.
func NewIndex(rdb *redis.Client) *Index {
	return &Index{rdb: rdb}
}

// Exists reports whether an instance id is already taken.
func (i *Index) Exists(ctx context.Context, instanceID string) (bool, error) {
	n, err := i.rdb.Exists(ctx, instanceID).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.KindIndex, "failed to probe instance index", err)
	}
	return n > 0, nil
}

// Set records the owner of a live instance id.
func (i *Index) Set(ctx context.Context, instanceID string, userID int64) error {
	if err := i.rdb.Set(ctx, instanceID, userID, 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindIndex, "failed to write instance index", err)
	}
	return nil
}

// Remove drops an instance id from the index.
func (i *Index) Remove(ctx context.Context, instanceID string) error {
	if err := i.rdb.Del(ctx, instanceID).Err(); err != nil {
		return apperr.Wrap(apperr.KindIndex, "failed to remove instance index entry", err)
	}
	return nil
}
