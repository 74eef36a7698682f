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

package donor

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/blocker"
	"tenantmove.io/tenantmove/go/tm/executor"
	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// Role says how this node applies donor state transitions.
type Role int

const (
	// RoleOriginator is the primary observing its own committed writes.
	// The originator created the tenant's blocker and blocked writes
	// before the blocking write reserved its timestamp, so on replaying
	// that write only the read cutover remains to be installed.
	RoleOriginator Role = iota
	// RoleReplay is a node applying already-committed documents from the
	// replication log (every secondary). It learns state and timestamp
	// together from one record, and creates the blocker on the spot.
	RoleReplay
)

func (r Role) String() string {
	if r == RoleOriginator {
		return "originator"
	}
	return "replay"
}

// Applier routes committed donor documents to the access blockers on this
// node. The log-replay invoker calls OnDonorStateTransition exactly once
// per committed record, in log order.
//
// Origination is a property of a record, not of the process: even on the
// node driving migrations, only blocking writes this process itself
// produced (through BeginBlocking) find their pre-registered blocker
// waiting. Everything else in the log, including this node's own history
// from before a restart, is applied the way a secondary applies it.
type Applier struct {
	registry *blocker.Registry
	exec     *executor.TaskExecutor
	role     Role

	// mu guards originated.
	mu sync.Mutex
	// originated holds the tenants whose blocking write this process is
	// currently driving. Marked by BeginBlocking before the write can
	// commit, consumed when the record comes back through the log.
	originated map[string]bool
}

// NewApplier returns an applier for the given role.
func NewApplier(registry *blocker.Registry, exec *executor.TaskExecutor, role Role) *Applier {
	return &Applier{
		registry:   registry,
		exec:       exec,
		role:       role,
		originated: make(map[string]bool),
	}
}

func (a *Applier) markOriginated(tenantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.originated[tenantID] = true
}

func (a *Applier) unmarkOriginated(tenantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.originated, tenantID)
}

// takeOriginated consumes the origination mark for tenantID. The blocking
// record appears exactly once in the log, so the mark is good for one
// application.
func (a *Applier) takeOriginated(tenantID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.originated[tenantID] {
		return false
	}
	delete(a.originated, tenantID)
	return true
}

// OnDonorStateTransition is the single entry point for donor state
// changes, on both the originator and replay paths. It parses the final
// committed document and dispatches on its state.
//
// Any returned error carries codes.Internal: it means a protocol
// invariant is broken (corrupt document, blocker present or absent for
// the wrong role, duplicate resolution) and the caller must treat it as
// fatal rather than ignore it.
func (a *Applier) OnDonorStateTransition(ctx context.Context, contents []byte) error {
	doc, err := ParseDocument(contents)
	if err != nil {
		return err
	}

	switch doc.State {
	case StateDataSync:
		// Data copy is progressing. No blocker action yet.
		return nil
	case StateBlocking:
		return a.applyBlocking(ctx, doc)
	case StateCommitted:
		return a.applyTerminal(ctx, doc)
	case StateAborted:
		return a.applyTerminal(ctx, doc)
	}
	// ParseDocument rejects unrecognized states.
	panic("unreachable donor state " + string(doc.State))
}

// applyBlocking handles the transition into StateBlocking. The two roles
// reach it with opposite expectations about the blocker's existence.
func (a *Applier) applyBlocking(ctx context.Context, doc *Document) error {
	if doc.BlockTimestamp.IsZero() {
		return tmerrors.Errorf(codes.Internal,
			"blocking donor document for tenant %q carries no block timestamp", doc.TenantID)
	}

	switch a.role {
	case RoleOriginator:
		// Only a blocking write this process drove finds its blocker
		// pre-registered. A record from another node, or from this node's
		// own life before a restart, is learned from the log.
		if a.takeOriginated(doc.TenantID) {
			return a.applyBlockingAsOriginator(doc)
		}
		return a.applyBlockingAsReplay(doc)
	case RoleReplay:
		return a.applyBlockingAsReplay(doc)
	}
	panic("unreachable applier role")
}

// applyBlockingAsOriginator installs the read cutover on the primary's
// own observer path. The blocker must already exist: the primary is
// required to create it and block writes before the blocking write even
// reserves its timestamp (see BeginBlocking).
func (a *Applier) applyBlockingAsOriginator(doc *Document) error {
	ab := a.registry.Get(doc.TenantID)
	if ab == nil {
		return tmerrors.Errorf(codes.Internal,
			"originator saw blocking state for tenant %q with no registered access blocker", doc.TenantID)
	}
	ab.StartBlockingReadsAfter(doc.BlockTimestamp)
	transitionsApplied.WithLabelValues(string(StateBlocking), a.role.String()).Inc()
	log.Infof("tenant %q migration %v: read cutover installed at %v", doc.TenantID, doc.ID, doc.BlockTimestamp)
	return nil
}

// applyBlockingAsReplay creates and fully initializes the blocker from
// one log record. The blocker must NOT exist yet; Add detecting one means
// two creators raced, which is a protocol violation.
func (a *Applier) applyBlockingAsReplay(doc *Document) error {
	if ab := a.registry.Get(doc.TenantID); ab != nil {
		return tmerrors.Errorf(codes.Internal,
			"replay saw blocking state for tenant %q but an access blocker is already registered", doc.TenantID)
	}

	ab := blocker.New(a.exec)
	if err := a.registry.Add(doc.TenantID, ab); err != nil {
		return tmerrors.Errorf(codes.Internal,
			"two creators raced registering the access blocker for tenant %q: %v", doc.TenantID, err)
	}
	ab.StartBlockingWrites()
	ab.StartBlockingReadsAfter(doc.BlockTimestamp)
	transitionsApplied.WithLabelValues(string(StateBlocking), a.role.String()).Inc()
	log.Infof("tenant %q migration %v: blocking replayed, cutover at %v", doc.TenantID, doc.ID, doc.BlockTimestamp)
	return nil
}

// applyTerminal resolves the tenant's blocker, if this node has one, and
// then removes the registry entry. Resolution happens first so every
// parked read is woken before the entry disappears; a lookup can never
// race removal into observing a half-resolved blocker.
func (a *Applier) applyTerminal(ctx context.Context, doc *Document) error {
	ab := a.registry.Get(doc.TenantID)
	if ab == nil {
		// This node never hosted a blocker for the tenant, or an earlier
		// record already resolved and removed it. Either way there is
		// nothing to wake.
		return nil
	}

	var err error
	if doc.State == StateCommitted {
		err = ab.OnCommit()
	} else {
		err = ab.OnAbort()
	}
	if err != nil {
		return tmerrors.Wrapf(err, "resolving migration %v for tenant %q", doc.ID, doc.TenantID)
	}

	a.registry.Remove(doc.TenantID)
	transitionsApplied.WithLabelValues(string(doc.State), a.role.String()).Inc()
	log.Infof("tenant %q migration %v: resolved as %v, access blocker released", doc.TenantID, doc.ID, doc.State)
	return nil
}
