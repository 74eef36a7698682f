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
	"bytes"
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/blocker"
	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// This file contains the primary-only write paths of the donor state
// machine. Only the node currently driving a migration forward runs
// these; every other node (and the driver node itself, on its observer
// path) learns about the transitions through the replication log and the
// Applier.

// convertStoreError translates store errors escaping the write paths into
// the taxonomy callers dispatch on. Write conflicts never escape; they
// are consumed by the retry loops.
func convertStoreError(err error, docPath string) error {
	switch {
	case statestore.IsErrType(err, statestore.NoNamespace):
		return tmerrors.NewErrorf(codes.NotFound, tmerrors.NamespaceNotFound,
			"the namespace backing %q does not exist", docPath)
	case statestore.IsErrType(err, statestore.NoNode):
		return tmerrors.NewErrorf(codes.NotFound, tmerrors.DocumentNotFound,
			"the migration document %q does not exist or was moved by another actor", docPath)
	}
	return err
}

// CreateMigration inserts the initial DataSync document for tenantID.
// It fails with ALREADY_EXISTS if a migration document for the tenant is
// already present.
func CreateMigration(ctx context.Context, conn statestore.Conn, tenantID string) (*Document, error) {
	doc := &Document{
		ID:       uuid.New(),
		TenantID: tenantID,
		State:    StateDataSync,
	}
	contents, err := doc.Encode()
	if err != nil {
		return nil, err
	}

	slots, err := conn.ReserveTimestamps(ctx, 1)
	if err != nil {
		return nil, tmerrors.Wrapf(err, "reserving a log slot for tenant %q migration creation", tenantID)
	}
	if _, err := conn.Create(ctx, doc.StorePath(), contents, slots[0]); err != nil {
		if statestore.IsErrType(err, statestore.NodeExists) {
			return nil, tmerrors.Errorf(codes.AlreadyExists,
				"a migration for tenant %q already exists", tenantID)
		}
		return nil, convertStoreError(err, doc.StorePath())
	}
	log.Infof("tenant %q: migration %v created in %v state", tenantID, doc.ID, StateDataSync)
	return doc, nil
}

// startBlockingOnPrimary registers the tenant's access blocker, starts
// blocking writes, and marks the applier so it recognizes the blocking
// record as its own when it comes back through the log. This must
// complete before the blocking write reserves its timestamp: any write
// admitted between blocking and the commit of the timestamped record
// would diverge donor and recipient.
func startBlockingOnPrimary(applier *Applier, doc *Document) error {
	if applier.role != RoleOriginator {
		return tmerrors.Errorf(codes.Internal,
			"cannot begin blocking for tenant %q through a %v applier", doc.TenantID, applier.role)
	}
	if doc.State != StateDataSync {
		return tmerrors.Errorf(codes.Internal,
			"cannot begin blocking for tenant %q from state %q", doc.TenantID, doc.State)
	}

	ab := blocker.New(applier.exec)
	ab.StartBlockingWrites()
	if err := applier.registry.Add(doc.TenantID, ab); err != nil {
		return tmerrors.Errorf(codes.Internal,
			"an access blocker already exists while beginning to block tenant %q: %v", doc.TenantID, err)
	}
	applier.markOriginated(doc.TenantID)
	return nil
}

// BeginBlocking drives the DataSync → Blocking transition.
//
// It first blocks new writes for the tenant, then persists the updated
// document and the replication-log record in one commit, using a freshly
// reserved log slot as both the record's position and the document's
// block timestamp. The two are therefore identical by construction: a
// node replaying the log up to that position has applied the same
// blocking semantics as this node.
//
// The persistence step re-runs from scratch on write conflicts. A missing
// namespace or document fails the migration start and leaves no blocker
// registered.
func BeginBlocking(ctx context.Context, conn statestore.Conn, applier *Applier, originalDoc *Document) (*Document, error) {
	if err := startBlockingOnPrimary(applier, originalDoc); err != nil {
		return nil, err
	}

	originalContents, err := originalDoc.Encode()
	if err != nil {
		applier.unmarkOriginated(originalDoc.TenantID)
		applier.registry.Remove(originalDoc.TenantID)
		return nil, err
	}

	var updatedDoc *Document
	attempt := 0
	err = statestore.RetryOnConflict(ctx, "donorBeginBlocking", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			blockingWriteRetries.Inc()
		}

		// Locate the document by its pre-image. A changed or vanished
		// document means some other actor moved the migration already.
		contents, version, err := conn.Get(ctx, originalDoc.StorePath())
		if err != nil {
			return err
		}
		if !bytes.Equal(contents, originalContents) {
			return statestore.NewError(statestore.NoNode, originalDoc.StorePath())
		}

		// Reserve the log slot for the write and use it as the block
		// timestamp for the migration.
		slots, err := conn.ReserveTimestamps(ctx, 1)
		if err != nil {
			return err
		}

		updatedDoc = &Document{
			ID:             originalDoc.ID,
			TenantID:       originalDoc.TenantID,
			State:          StateBlocking,
			BlockTimestamp: slots[0],
		}
		updatedContents, err := updatedDoc.Encode()
		if err != nil {
			return err
		}

		_, err = conn.Update(ctx, updatedDoc.StorePath(), updatedContents, version, slots[0])
		return err
	})
	if err != nil {
		// No partial state: a failed start leaves nothing registered.
		applier.unmarkOriginated(originalDoc.TenantID)
		applier.registry.Remove(originalDoc.TenantID)
		return nil, convertStoreError(err, originalDoc.StorePath())
	}

	log.Infof("tenant %q migration %v: blocking persisted at %v",
		updatedDoc.TenantID, updatedDoc.ID, updatedDoc.BlockTimestamp)
	return updatedDoc, nil
}

// CommitMigration drives Blocking → Committed. The block timestamp is
// carried over unchanged; only the state moves.
func CommitMigration(ctx context.Context, conn statestore.Conn, doc *Document) (*Document, error) {
	return resolveMigration(ctx, conn, doc, StateCommitted)
}

// AbortMigration drives Blocking → Aborted.
func AbortMigration(ctx context.Context, conn statestore.Conn, doc *Document) (*Document, error) {
	return resolveMigration(ctx, conn, doc, StateAborted)
}

func resolveMigration(ctx context.Context, conn statestore.Conn, doc *Document, terminal State) (*Document, error) {
	if doc.State != StateBlocking {
		return nil, tmerrors.Errorf(codes.Internal,
			"cannot resolve migration for tenant %q as %q from state %q", doc.TenantID, terminal, doc.State)
	}

	var updatedDoc *Document
	err := statestore.RetryOnConflict(ctx, "donorResolveMigration", func(ctx context.Context) error {
		contents, version, err := conn.Get(ctx, doc.StorePath())
		if err != nil {
			return err
		}
		current, err := ParseDocument(contents)
		if err != nil {
			return err
		}
		if current.ID != doc.ID || current.State != StateBlocking {
			return statestore.NewError(statestore.NoNode, doc.StorePath())
		}

		slots, err := conn.ReserveTimestamps(ctx, 1)
		if err != nil {
			return err
		}

		updatedDoc = &Document{
			ID:             current.ID,
			TenantID:       current.TenantID,
			State:          terminal,
			BlockTimestamp: current.BlockTimestamp,
		}
		updatedContents, err := updatedDoc.Encode()
		if err != nil {
			return err
		}
		_, err = conn.Update(ctx, updatedDoc.StorePath(), updatedContents, version, slots[0])
		return err
	})
	if err != nil {
		return nil, convertStoreError(err, doc.StorePath())
	}

	log.Infof("tenant %q migration %v: resolved as %v", updatedDoc.TenantID, updatedDoc.ID, terminal)
	return updatedDoc, nil
}
