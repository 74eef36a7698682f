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

// Package memstore contains an implementation of the statestore.Conn
// interface based on an in-memory map of versioned documents. It is
// constructed with an immutable set of namespaces.
//
// It is used by unit tests, and by anything else that needs a
// self-contained store with real conflict-detection and replication-log
// semantics.
package memstore

import (
	"context"
	"strings"
	"sync"

	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore"
)

// watchBufferSize is the number of log entries a watcher may fall behind
// before its channel is closed.
const watchBufferSize = 1024

// MemoryStore implements statestore.Conn with an in-memory tree of
// versioned documents. Document paths have the form "namespace/id".
//
// A single generation counter produces document versions, so deleting and
// re-creating a document never reuses a version. A separate logical clock
// produces replication-log timestamps.
type MemoryStore struct {
	// mu protects all the fields below.
	mu sync.Mutex
	// generation is used to generate unique incrementing version
	// numbers across all documents.
	generation int64
	// clock is the logical clock used by ReserveTimestamps.
	clock statestore.Timestamp
	// namespaces is the toplevel map, one entry per namespace.
	namespaces map[string]map[string]*node
	// logRecords is the replication log, in commit order.
	logRecords []statestore.LogEntry
	// watches has one channel per active watcher.
	watches        map[int]chan statestore.LogEntry
	nextWatchIndex int
	closed         bool
}

// node is a single versioned document.
type node struct {
	contents []byte
	version  int64
}

// NewStore returns a MemoryStore with the given namespaces created.
func NewStore(namespaces ...string) *MemoryStore {
	ms := &MemoryStore{
		namespaces: make(map[string]map[string]*node),
		watches:    make(map[int]chan statestore.LogEntry),
	}
	for _, ns := range namespaces {
		ms.namespaces[ns] = make(map[string]*node)
	}
	return ms
}

// splitPath splits "namespace/id" into its two components.
func splitPath(path string) (ns, id string) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		return path, ""
	}
	return parts[0], parts[1]
}

// lookup returns the namespace map and the node for path, or a store
// error. Callers must hold ms.mu.
func (ms *MemoryStore) lookup(path string) (map[string]*node, *node, error) {
	ns, id := splitPath(path)
	docs, ok := ms.namespaces[ns]
	if !ok {
		return nil, nil, statestore.NewError(statestore.NoNamespace, ns)
	}
	n, ok := docs[id]
	if !ok {
		return docs, nil, statestore.NewError(statestore.NoNode, path)
	}
	return docs, n, nil
}

// Get is part of statestore.Conn.
func (ms *MemoryStore) Get(ctx context.Context, path string) ([]byte, int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return nil, 0, statestore.NewError(statestore.Interrupted, path)
	}

	_, n, err := ms.lookup(path)
	if err != nil {
		return nil, 0, err
	}
	contents := make([]byte, len(n.contents))
	copy(contents, n.contents)
	return contents, n.version, nil
}

// Create is part of statestore.Conn.
func (ms *MemoryStore) Create(ctx context.Context, path string, contents []byte, slot statestore.Timestamp) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return 0, statestore.NewError(statestore.Interrupted, path)
	}

	ns, id := splitPath(path)
	docs, ok := ms.namespaces[ns]
	if !ok {
		return 0, statestore.NewError(statestore.NoNamespace, ns)
	}
	if _, ok := docs[id]; ok {
		return 0, statestore.NewError(statestore.NodeExists, path)
	}

	ms.generation++
	docs[id] = &node{contents: clone(contents), version: ms.generation}
	ms.appendLogLocked(path, contents, slot)
	return ms.generation, nil
}

// Update is part of statestore.Conn.
func (ms *MemoryStore) Update(ctx context.Context, path string, contents []byte, version int64, slot statestore.Timestamp) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return 0, statestore.NewError(statestore.Interrupted, path)
	}

	_, n, err := ms.lookup(path)
	if err != nil {
		return 0, err
	}
	if n.version != version {
		return 0, statestore.NewError(statestore.BadVersion, path)
	}

	ms.generation++
	n.contents = clone(contents)
	n.version = ms.generation
	ms.appendLogLocked(path, contents, slot)
	return ms.generation, nil
}

// ReserveTimestamps is part of statestore.Conn.
func (ms *MemoryStore) ReserveTimestamps(ctx context.Context, count int) ([]statestore.Timestamp, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return nil, statestore.NewError(statestore.Interrupted, "clock")
	}

	slots := make([]statestore.Timestamp, count)
	for i := range slots {
		ms.clock++
		slots[i] = ms.clock
	}
	return slots, nil
}

// Watch is part of statestore.Conn. The full log so far is delivered
// first, then new entries as they commit.
func (ms *MemoryStore) Watch(ctx context.Context) (<-chan statestore.LogEntry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return nil, statestore.NewError(statestore.Interrupted, "watch")
	}

	ch := make(chan statestore.LogEntry, watchBufferSize)
	for _, e := range ms.logRecords {
		ch <- e
	}
	idx := ms.nextWatchIndex
	ms.nextWatchIndex++
	ms.watches[idx] = ch

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			ms.mu.Lock()
			defer ms.mu.Unlock()
			if c, ok := ms.watches[idx]; ok {
				delete(ms.watches, idx)
				close(c)
			}
		}()
	}
	return ch, nil
}

// Close is part of statestore.Conn.
func (ms *MemoryStore) Close() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return
	}
	ms.closed = true
	for idx, ch := range ms.watches {
		delete(ms.watches, idx)
		close(ch)
	}
}

// appendLogLocked records one committed mutation and notifies watchers.
// Callers must hold ms.mu.
func (ms *MemoryStore) appendLogLocked(path string, contents []byte, slot statestore.Timestamp) {
	entry := statestore.LogEntry{
		Position: slot,
		Path:     path,
		Contents: clone(contents),
	}
	ms.logRecords = append(ms.logRecords, entry)
	for idx, ch := range ms.watches {
		select {
		case ch <- entry:
		default:
			// The watcher fell too far behind. Terminate it rather than
			// block the store or deliver the log out of order.
			log.Errorf("memstore: watcher %d fell behind, closing its channel", idx)
			delete(ms.watches, idx)
			close(ch)
		}
	}
}

func clone(contents []byte) []byte {
	c := make([]byte, len(contents))
	copy(c, contents)
	return c
}
