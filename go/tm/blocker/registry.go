/*
Copyright 2026 The Tenantmove Authors.

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

package blocker

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// Registry is the node-wide map from tenant ID to its access blocker.
// It is the single source of truth: the state-transition paths insert
// blockers, admission checks look them up, and terminal transitions
// remove them.
//
// The mutex only guards the map. No blocker method is invoked while
// holding it.
type Registry struct {
	mu       sync.Mutex
	blockers map[string]*AccessBlocker
}

// NewRegistry returns an empty registry. One is created per node process
// and passed explicitly to the components that need it.
func NewRegistry() *Registry {
	return &Registry{
		blockers: make(map[string]*AccessBlocker),
	}
}

// Get returns the blocker for tenantID, or nil if the tenant is not
// migrating on this node.
func (r *Registry) Get(tenantID string) *AccessBlocker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockers[tenantID]
}

// Add registers ab for tenantID. It fails with ALREADY_EXISTS if a
// blocker is already registered: this is what enforces "at most one live
// blocker per tenant" and guards the originator/replay creation race.
func (r *Registry) Add(tenantID string, ab *AccessBlocker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blockers[tenantID]; ok {
		return tmerrors.NewErrorf(codes.AlreadyExists, tmerrors.BlockerExists,
			"an access blocker is already registered for tenant %q", tenantID)
	}
	r.blockers[tenantID] = ab
	blockersRegistered.Inc()
	return nil
}

// Remove drops the registry entry for tenantID. It is called once the
// migration is terminal and the blocker has finished waking parked
// operations. Removing an absent entry is a no-op.
func (r *Registry) Remove(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blockers[tenantID]; ok {
		delete(r.blockers, tenantID)
		blockersRegistered.Dec()
	}
}

// CheckWriteAllowed is the write admission check for server operation
// paths: a tenant with no registered blocker is always admitted.
func (r *Registry) CheckWriteAllowed(ctx context.Context, tenantID string) error {
	ab := r.Get(tenantID)
	if ab == nil {
		return nil
	}
	return ab.CheckWriteAllowed(ctx)
}

// CheckReadAllowed is the read admission check for server operation
// paths. A zero snapshotTs means the read has no fixed snapshot. The
// caller may park here until the tenant's migration resolves.
func (r *Registry) CheckReadAllowed(ctx context.Context, tenantID string, snapshotTs statestore.Timestamp) error {
	ab := r.Get(tenantID)
	if ab == nil {
		return nil
	}
	return ab.CheckReadAllowed(ctx, snapshotTs)
}
