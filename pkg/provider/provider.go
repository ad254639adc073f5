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

// Package provider defines the contract for turning a container spec
// into running infrastructure. A provider holds no per-instance state
// between calls; everything is keyed by the instance id.
package provider

import (
	"context"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

// Provider provisions and tears down challenge instances. Variants are
// selected once at process start and shared read-only afterwards.
//
// CreateInstance is idempotent: repeated calls for the same id are
// safe. When any resource fails to create, the provider compensates by
// deleting everything tagged with the id before returning the error.
//
// DeleteInstance is idempotent and best-effort: deleting an id with no
// resources is a no-op, and partial failures are logged rather than
// returned.
type Provider interface {
	CreateInstance(ctx context.Context, spec []challenge.Container, instanceID string) error
	DeleteInstance(ctx context.Context, instanceID string) error
}
