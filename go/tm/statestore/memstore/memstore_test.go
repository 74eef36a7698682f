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

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantmove.io/tenantmove/go/tm/statestore"
)

func reserveOne(t *testing.T, ms *MemoryStore) statestore.Timestamp {
	t.Helper()
	slots, err := ms.ReserveTimestamps(context.Background(), 1)
	require.NoError(t, err)
	return slots[0]
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	ms := NewStore("tenants")
	defer ms.Close()

	v1, err := ms.Create(ctx, "tenants/t1", []byte("one"), reserveOne(t, ms))
	require.NoError(t, err)

	contents, version, err := ms.Get(ctx, "tenants/t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), contents)
	assert.Equal(t, v1, version)

	v2, err := ms.Update(ctx, "tenants/t1", []byte("two"), v1, reserveOne(t, ms))
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	contents, version, err = ms.Get(ctx, "tenants/t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), contents)
	assert.Equal(t, v2, version)
}

func TestErrorCases(t *testing.T) {
	ctx := context.Background()
	ms := NewStore("tenants")
	defer ms.Close()

	_, _, err := ms.Get(ctx, "nope/t1")
	assert.True(t, statestore.IsErrType(err, statestore.NoNamespace))

	_, _, err = ms.Get(ctx, "tenants/t1")
	assert.True(t, statestore.IsErrType(err, statestore.NoNode))

	_, err = ms.Create(ctx, "nope/t1", []byte("x"), reserveOne(t, ms))
	assert.True(t, statestore.IsErrType(err, statestore.NoNamespace))

	v1, err := ms.Create(ctx, "tenants/t1", []byte("one"), reserveOne(t, ms))
	require.NoError(t, err)

	_, err = ms.Create(ctx, "tenants/t1", []byte("again"), reserveOne(t, ms))
	assert.True(t, statestore.IsErrType(err, statestore.NodeExists))

	_, err = ms.Update(ctx, "tenants/t1", []byte("two"), v1+100, reserveOne(t, ms))
	assert.True(t, statestore.IsErrType(err, statestore.BadVersion))

	_, err = ms.Update(ctx, "tenants/t2", []byte("two"), 1, reserveOne(t, ms))
	assert.True(t, statestore.IsErrType(err, statestore.NoNode))
}

func TestReserveTimestampsMonotonic(t *testing.T) {
	ctx := context.Background()
	ms := NewStore()
	defer ms.Close()

	first, err := ms.ReserveTimestamps(ctx, 3)
	require.NoError(t, err)
	second, err := ms.ReserveTimestamps(ctx, 2)
	require.NoError(t, err)

	var all []statestore.Timestamp
	all = append(all, first...)
	all = append(all, second...)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Before(all[i]), "%v is not before %v", all[i-1], all[i])
	}
}

func collectEntries(t *testing.T, ch <-chan statestore.LogEntry, n int) []statestore.LogEntry {
	t.Helper()
	var entries []statestore.LogEntry
	for len(entries) < n {
		select {
		case e, ok := <-ch:
			require.True(t, ok, "log stream closed after %d entries, want %d", len(entries), n)
			entries = append(entries, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d entries, want %d", len(entries), n)
		}
	}
	return entries
}

func TestWatchDeliversLogInOrder(t *testing.T) {
	ctx := context.Background()
	ms := NewStore("tenants")
	defer ms.Close()

	// One record committed before the watch starts.
	slot1 := reserveOne(t, ms)
	v1, err := ms.Create(ctx, "tenants/t1", []byte("one"), slot1)
	require.NoError(t, err)

	ch, err := ms.Watch(ctx)
	require.NoError(t, err)

	// And one after.
	slot2 := reserveOne(t, ms)
	_, err = ms.Update(ctx, "tenants/t1", []byte("two"), v1, slot2)
	require.NoError(t, err)

	entries := collectEntries(t, ch, 2)
	assert.Equal(t, slot1, entries[0].Position)
	assert.Equal(t, []byte("one"), entries[0].Contents)
	assert.Equal(t, slot2, entries[1].Position)
	assert.Equal(t, []byte("two"), entries[1].Contents)
	assert.Equal(t, "tenants/t1", entries[1].Path)
}

func TestWatchEndsOnContextCancel(t *testing.T) {
	ms := NewStore("tenants")
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := ms.Watch(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestCloseTerminatesWatchers(t *testing.T) {
	ms := NewStore("tenants")
	ch, err := ms.Watch(context.Background())
	require.NoError(t, err)

	ms.Close()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after store close")
	}

	_, _, err = ms.Get(context.Background(), "tenants/t1")
	assert.True(t, statestore.IsErrType(err, statestore.Interrupted))
}
