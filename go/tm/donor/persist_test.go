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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/statestore/memstore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// readBack fetches and decodes the stored document for tenantID.
func readBack(t *testing.T, conn statestore.Conn, tenantID string) *Document {
	t.Helper()
	contents, _, err := conn.Get(context.Background(), (&Document{TenantID: tenantID}).StorePath())
	require.NoError(t, err)
	doc, err := ParseDocument(contents)
	require.NoError(t, err)
	return doc
}

func TestCreateMigration(t *testing.T) {
	ctx := context.Background()
	ms := memstore.NewStore(DonorsNamespace)
	defer ms.Close()

	doc, err := CreateMigration(ctx, ms, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateDataSync, doc.State)
	assert.Equal(t, "t1", doc.TenantID)
	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.True(t, doc.BlockTimestamp.IsZero())

	if diff := cmp.Diff(doc, readBack(t, ms, "t1")); diff != "" {
		t.Errorf("stored document differs (-want +got):\n%s", diff)
	}

	_, err = CreateMigration(ctx, ms, "t1")
	assert.Equal(t, codes.AlreadyExists, tmerrors.Code(err))
}

func TestBeginBlocking(t *testing.T) {
	ctx := context.Background()
	ms := memstore.NewStore(DonorsNamespace)
	defer ms.Close()
	env := newApplierEnv(t, RoleOriginator)

	doc, err := CreateMigration(ctx, ms, "t1")
	require.NoError(t, err)

	updated, err := BeginBlocking(ctx, ms, env.applier, doc)
	require.NoError(t, err)
	assert.Equal(t, StateBlocking, updated.State)
	assert.Equal(t, doc.ID, updated.ID)
	assert.False(t, updated.BlockTimestamp.IsZero())

	// The block timestamp is the replication-log position of the blocking
	// write itself.
	entries, err := ms.Watch(ctx)
	require.NoError(t, err)
	var last statestore.LogEntry
	for i := 0; i < 2; i++ {
		select {
		case last = <-entries:
		case <-time.After(5 * time.Second):
			t.Fatal("missing log records")
		}
	}
	assert.Equal(t, updated.BlockTimestamp, last.Position)
	stored, err := ParseDocument(last.Contents)
	require.NoError(t, err)
	if diff := cmp.Diff(updated, stored); diff != "" {
		t.Errorf("logged document differs (-want +got):\n%s", diff)
	}

	// Writes are blocked from before the write committed; the read cutover
	// is not installed until the observer path replays the record.
	ab := env.registry.Get("t1")
	require.NotNil(t, ab)
	assert.Equal(t, tmerrors.MigrationConflict, tmerrors.ErrState(ab.CheckWriteAllowed(ctx)))
	assert.NoError(t, ab.CheckReadAllowed(ctx, updated.BlockTimestamp))
}

func TestBeginBlockingRequiresDataSync(t *testing.T) {
	ctx := context.Background()
	ms := memstore.NewStore(DonorsNamespace)
	defer ms.Close()
	env := newApplierEnv(t, RoleOriginator)

	doc := &Document{ID: uuid.New(), TenantID: "t1", State: StateBlocking, BlockTimestamp: 5}
	_, err := BeginBlocking(ctx, ms, env.applier, doc)
	assert.Equal(t, codes.Internal, tmerrors.Code(err))
	assert.Nil(t, env.registry.Get("t1"))
}

func TestBeginBlockingFailureLeavesNoBlocker(t *testing.T) {
	ctx := context.Background()
	// No namespace exists, so the persistence step must fail.
	ms := memstore.NewStore()
	defer ms.Close()
	env := newApplierEnv(t, RoleOriginator)

	doc := &Document{ID: uuid.New(), TenantID: "t1", State: StateDataSync}
	_, err := BeginBlocking(ctx, ms, env.applier, doc)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, tmerrors.Code(err))
	assert.Equal(t, tmerrors.NamespaceNotFound, tmerrors.ErrState(err))

	// A failed start is a clean start: nothing stays registered, the
	// tenant's writes are not blocked.
	assert.Nil(t, env.registry.Get("t1"))
	assert.NoError(t, env.registry.CheckWriteAllowed(ctx, "t1"))
}

func TestBeginBlockingDetectsMovedDocument(t *testing.T) {
	ctx := context.Background()
	ms := memstore.NewStore(DonorsNamespace)
	defer ms.Close()
	env := newApplierEnv(t, RoleOriginator)

	doc, err := CreateMigration(ctx, ms, "t1")
	require.NoError(t, err)

	// Another actor replaces the document before we begin blocking.
	other := &Document{ID: uuid.New(), TenantID: "t1", State: StateDataSync}
	contents, err := other.Encode()
	require.NoError(t, err)
	_, version, err := ms.Get(ctx, doc.StorePath())
	require.NoError(t, err)
	slots, err := ms.ReserveTimestamps(ctx, 1)
	require.NoError(t, err)
	_, err = ms.Update(ctx, doc.StorePath(), contents, version, slots[0])
	require.NoError(t, err)

	_, err = BeginBlocking(ctx, ms, env.applier, doc)
	assert.Equal(t, codes.NotFound, tmerrors.Code(err))
	assert.Equal(t, tmerrors.DocumentNotFound, tmerrors.ErrState(err))
	assert.Nil(t, env.registry.Get("t1"))
}

func TestCommitAndAbortMigration(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		ms := memstore.NewStore(DonorsNamespace)
		defer ms.Close()
		env := newApplierEnv(t, RoleOriginator)

		doc, err := CreateMigration(ctx, ms, "t1")
		require.NoError(t, err)
		blocking, err := BeginBlocking(ctx, ms, env.applier, doc)
		require.NoError(t, err)

		committed, err := CommitMigration(ctx, ms, blocking)
		require.NoError(t, err)
		assert.Equal(t, StateCommitted, committed.State)
		// Resolution never revises the block timestamp.
		assert.Equal(t, blocking.BlockTimestamp, committed.BlockTimestamp)

		// The document is already terminal, so committing again cannot
		// find it in the blocking state.
		_, err = CommitMigration(ctx, ms, blocking)
		assert.Equal(t, codes.NotFound, tmerrors.Code(err))
		assert.Equal(t, tmerrors.DocumentNotFound, tmerrors.ErrState(err))
	})

	t.Run("abort", func(t *testing.T) {
		ms := memstore.NewStore(DonorsNamespace)
		defer ms.Close()
		env := newApplierEnv(t, RoleOriginator)

		doc, err := CreateMigration(ctx, ms, "t1")
		require.NoError(t, err)
		blocking, err := BeginBlocking(ctx, ms, env.applier, doc)
		require.NoError(t, err)

		aborted, err := AbortMigration(ctx, ms, blocking)
		require.NoError(t, err)
		assert.Equal(t, StateAborted, aborted.State)
		assert.Equal(t, blocking.BlockTimestamp, aborted.BlockTimestamp)
	})

	t.Run("not blocking yet", func(t *testing.T) {
		ms := memstore.NewStore(DonorsNamespace)
		defer ms.Close()

		doc, err := CreateMigration(ctx, ms, "t1")
		require.NoError(t, err)
		_, err = CommitMigration(ctx, ms, doc)
		assert.Equal(t, codes.Internal, tmerrors.Code(err))
	})
}
