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

// Package blocker enforces read/write admission for tenants whose data is
// being migrated away from this node.
//
// One AccessBlocker exists per migrating tenant. Writes are denied as
// soon as blocking starts. Reads with a snapshot timestamp before the
// cutover keep flowing; reads at or past the cutover (or with no fixed
// snapshot) park until the migration commits or aborts.
package blocker

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/executor"
	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// resolution is the terminal outcome of the migration, as observed by
// parked reads.
type resolution int

const (
	resolutionPending resolution = iota
	resolutionCommitted
	resolutionAborted
)

func (r resolution) String() string {
	switch r {
	case resolutionPending:
		return "pending"
	case resolutionCommitted:
		return "committed"
	case resolutionAborted:
		return "aborted"
	}
	return "unknown"
}

// AccessBlocker gates operations for one migrating tenant.
//
// Its fields are monotonic: writesBlocked goes false→true once,
// readBlockTimestamp is set once and never revised, and the outcome is
// resolved once. Admission checks take the mutex briefly; parked reads
// wait on a channel that is closed exactly once, by the resolution hook,
// under the same mutex used to register the wait. There is no
// missed-wakeup window.
type AccessBlocker struct {
	// exec is the injected task executor the surrounding driver uses for
	// recipient communication tied to this migration.
	exec *executor.TaskExecutor

	mu                 sync.Mutex
	writesBlocked      bool
	readBlockSet       bool
	readBlockTimestamp statestore.Timestamp
	outcome            resolution
	// resolved is closed when outcome leaves resolutionPending.
	resolved chan struct{}
}

// New returns an AccessBlocker in its initial, all-admitting state.
func New(exec *executor.TaskExecutor) *AccessBlocker {
	return &AccessBlocker{
		exec:     exec,
		resolved: make(chan struct{}),
	}
}

// Executor returns the task executor this blocker was built with.
func (ab *AccessBlocker) Executor() *executor.TaskExecutor {
	return ab.exec
}

// StartBlockingWrites denies all new writes from here on. It must be
// called exactly once per blocker: the document-level invariant
// guarantees each migration enters the blocking state once, so a second
// call is a logic error and panics.
func (ab *AccessBlocker) StartBlockingWrites() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.writesBlocked {
		panic("StartBlockingWrites called twice on one access blocker")
	}
	ab.writesBlocked = true
}

// StartBlockingReadsAfter sets the cutover timestamp. Reads with a
// snapshot at or after ts park until the migration resolves. Writes must
// already be blocked, and the timestamp is set exactly once; anything
// else is a logic error and panics.
func (ab *AccessBlocker) StartBlockingReadsAfter(ts statestore.Timestamp) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if !ab.writesBlocked {
		panic("StartBlockingReadsAfter called before StartBlockingWrites")
	}
	if ab.readBlockSet {
		panic("StartBlockingReadsAfter called twice on one access blocker")
	}
	if ts.IsZero() {
		panic("StartBlockingReadsAfter called with a zero timestamp")
	}
	ab.readBlockSet = true
	ab.readBlockTimestamp = ts
}

// CheckWriteAllowed returns nil if a new write may proceed, or a
// FAILED_PRECONDITION/MigrationConflict error once blocking has started.
// The write is not retryable against this node; the caller re-routes to
// the recipient once the migration completes.
func (ab *AccessBlocker) CheckWriteAllowed(ctx context.Context) error {
	ab.mu.Lock()
	blocked := ab.writesBlocked
	ab.mu.Unlock()

	if blocked {
		writesDenied.Inc()
		return tmerrors.NewErrorf(codes.FailedPrecondition, tmerrors.MigrationConflict,
			"tenant is being migrated away from this node, write cannot be accepted")
	}
	return nil
}

// CheckReadAllowed returns nil if a read at snapshotTs may proceed. A
// zero snapshotTs means the read has no fixed snapshot ("latest").
//
// Reads strictly before the cutover timestamp are admitted immediately,
// even after blocking starts. Reads at or after the cutover, or with no
// fixed snapshot, park until the migration resolves: on commit they fail
// with FAILED_PRECONDITION/MigrationCommitted (the caller redirects to
// the recipient), on abort they proceed normally (nil).
//
// ctx only bounds the wait; the blocker itself has no timeout.
func (ab *AccessBlocker) CheckReadAllowed(ctx context.Context, snapshotTs statestore.Timestamp) error {
	ab.mu.Lock()
	if !ab.readBlockSet {
		ab.mu.Unlock()
		return nil
	}
	if !snapshotTs.IsZero() && snapshotTs.Before(ab.readBlockTimestamp) {
		// Pre-cutover snapshot reads keep their isolation unchanged.
		ab.mu.Unlock()
		return nil
	}
	if ab.outcome != resolutionPending {
		outcome := ab.outcome
		ab.mu.Unlock()
		return readResolution(outcome)
	}
	// Register the wait while still holding the mutex: the resolution
	// hook closes this channel under the same mutex, so the terminal
	// check above and this registration are atomic.
	resolved := ab.resolved
	ab.mu.Unlock()

	readsParked.Inc()
	select {
	case <-resolved:
	case <-ctx.Done():
		return tmerrors.Wrapf(ctx.Err(), "read was blocked on tenant migration and gave up waiting")
	}

	ab.mu.Lock()
	outcome := ab.outcome
	ab.mu.Unlock()
	return readResolution(outcome)
}

func readResolution(outcome resolution) error {
	switch outcome {
	case resolutionCommitted:
		readsResumed.WithLabelValues("committed").Inc()
		return tmerrors.NewErrorf(codes.FailedPrecondition, tmerrors.MigrationCommitted,
			"tenant migration committed, read must be re-routed to the recipient")
	case resolutionAborted:
		// The migration never happened as far as this read is concerned.
		readsResumed.WithLabelValues("aborted").Inc()
		return nil
	default:
		panic("read woken up without a migration resolution")
	}
}

// OnCommit resolves the migration as committed and wakes all parked
// reads. It must be called exactly once; a duplicate resolution is a
// protocol violation and returns an INTERNAL error without waking
// anything twice.
func (ab *AccessBlocker) OnCommit() error {
	return ab.resolve(resolutionCommitted)
}

// OnAbort resolves the migration as aborted and wakes all parked reads.
// Same single-call contract as OnCommit.
func (ab *AccessBlocker) OnAbort() error {
	return ab.resolve(resolutionAborted)
}

func (ab *AccessBlocker) resolve(outcome resolution) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.outcome != resolutionPending {
		return tmerrors.Errorf(codes.Internal,
			"migration resolved twice (already %v, now %v)", ab.outcome, outcome)
	}
	ab.outcome = outcome
	close(ab.resolved)
	return nil
}
