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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/executor"
	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

const cutover = statestore.Timestamp(100)

func newTestBlocker(t *testing.T) *AccessBlocker {
	t.Helper()
	exec := executor.NewTaskExecutor(4)
	t.Cleanup(exec.Shutdown)
	return New(exec)
}

// blockedBlocker returns a blocker with writes blocked and the read
// cutover installed, the state both roles converge on.
func blockedBlocker(t *testing.T) *AccessBlocker {
	t.Helper()
	ab := newTestBlocker(t)
	ab.StartBlockingWrites()
	ab.StartBlockingReadsAfter(cutover)
	return ab
}

func TestWritesAllowedUntilBlocking(t *testing.T) {
	ctx := context.Background()
	ab := newTestBlocker(t)

	require.NoError(t, ab.CheckWriteAllowed(ctx))

	ab.StartBlockingWrites()
	err := ab.CheckWriteAllowed(ctx)
	assert.Equal(t, codes.FailedPrecondition, tmerrors.Code(err))
	assert.Equal(t, tmerrors.MigrationConflict, tmerrors.ErrState(err))
}

func TestWritesStayBlockedAfterCommit(t *testing.T) {
	ctx := context.Background()
	ab := blockedBlocker(t)
	require.NoError(t, ab.OnCommit())

	err := ab.CheckWriteAllowed(ctx)
	assert.Equal(t, tmerrors.MigrationConflict, tmerrors.ErrState(err))
}

func TestReadsBeforeCutoverAdmitted(t *testing.T) {
	ctx := context.Background()
	ab := blockedBlocker(t)

	// A snapshot strictly before the cutover never waits, even while the
	// migration is unresolved.
	assert.NoError(t, ab.CheckReadAllowed(ctx, cutover-1))
}

func TestReadsBeforeReadBlockingAdmitted(t *testing.T) {
	ctx := context.Background()
	ab := newTestBlocker(t)
	ab.StartBlockingWrites()

	// Writes are already blocked but no cutover is installed yet: reads at
	// any snapshot keep flowing.
	assert.NoError(t, ab.CheckReadAllowed(ctx, 0))
	assert.NoError(t, ab.CheckReadAllowed(ctx, cutover+1))
}

// parkRead launches a read at snapshotTs and returns the channel its
// result arrives on.
func parkRead(ab *AccessBlocker, ctx context.Context, snapshotTs statestore.Timestamp) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- ab.CheckReadAllowed(ctx, snapshotTs)
	}()
	return result
}

func waitForRead(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("parked read never woke up")
		return nil
	}
}

func TestParkedReadFailsOverOnCommit(t *testing.T) {
	ctx := context.Background()
	ab := blockedBlocker(t)

	atCutover := parkRead(ab, ctx, cutover)
	afterCutover := parkRead(ab, ctx, cutover+5)
	noSnapshot := parkRead(ab, ctx, 0)

	// Nothing resolves before the terminal transition.
	select {
	case err := <-atCutover:
		t.Fatalf("read resolved before the migration did: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, ab.OnCommit())

	for _, result := range []<-chan error{atCutover, afterCutover, noSnapshot} {
		err := waitForRead(t, result)
		assert.Equal(t, codes.FailedPrecondition, tmerrors.Code(err))
		assert.Equal(t, tmerrors.MigrationCommitted, tmerrors.ErrState(err))
	}
}

func TestParkedReadProceedsOnAbort(t *testing.T) {
	ctx := context.Background()
	ab := blockedBlocker(t)

	result := parkRead(ab, ctx, cutover)
	require.NoError(t, ab.OnAbort())
	assert.NoError(t, waitForRead(t, result))
}

func TestReadAfterResolutionDoesNotPark(t *testing.T) {
	ctx := context.Background()
	ab := blockedBlocker(t)
	require.NoError(t, ab.OnCommit())

	// Late reads get the terminal answer immediately.
	err := ab.CheckReadAllowed(ctx, cutover)
	assert.Equal(t, tmerrors.MigrationCommitted, tmerrors.ErrState(err))
}

func TestParkedReadGivesUpWithContext(t *testing.T) {
	ab := blockedBlocker(t)

	ctx, cancel := context.WithCancel(context.Background())
	result := parkRead(ab, ctx, cutover)
	cancel()

	err := waitForRead(t, result)
	assert.Equal(t, codes.Canceled, tmerrors.Code(err))
}

func TestDuplicateResolutionIsInternal(t *testing.T) {
	ab := blockedBlocker(t)
	require.NoError(t, ab.OnCommit())

	assert.Equal(t, codes.Internal, tmerrors.Code(ab.OnCommit()))
	assert.Equal(t, codes.Internal, tmerrors.Code(ab.OnAbort()))
}

func TestBlockingAPIMisusePanics(t *testing.T) {
	t.Run("writes blocked twice", func(t *testing.T) {
		ab := newTestBlocker(t)
		ab.StartBlockingWrites()
		require.Panics(t, ab.StartBlockingWrites)
	})
	t.Run("reads blocked before writes", func(t *testing.T) {
		ab := newTestBlocker(t)
		require.Panics(t, func() { ab.StartBlockingReadsAfter(cutover) })
	})
	t.Run("cutover installed twice", func(t *testing.T) {
		ab := blockedBlocker(t)
		require.Panics(t, func() { ab.StartBlockingReadsAfter(cutover + 1) })
	})
	t.Run("zero cutover", func(t *testing.T) {
		ab := newTestBlocker(t)
		ab.StartBlockingWrites()
		require.Panics(t, func() { ab.StartBlockingReadsAfter(0) })
	})
}

func TestExecutorIsCarried(t *testing.T) {
	exec := executor.NewTaskExecutor(1)
	defer exec.Shutdown()
	ab := New(exec)
	assert.Same(t, exec, ab.Executor())
}
