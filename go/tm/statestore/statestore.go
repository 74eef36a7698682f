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

// Package statestore defines the contract between the migration
// coordination core and the replicated document store underneath it.
//
// The store keeps versioned documents, hands out strictly increasing
// logical timestamps, and exposes a replication log: every committed
// document mutation is written together with a log record at a reserved
// timestamp, in one commit boundary. Replaying the log observes exactly
// the sequence of committed documents, in commit order; for any single
// document that is also timestamp order, because the version check
// serializes its writes.
//
// Two implementations exist: memstore (in-memory, used by tests) and
// etcdstore (etcd-backed).
package statestore

import (
	"context"
	"fmt"
)

// Timestamp is a position in the store's replication log. Timestamps are
// totally ordered, strictly increasing, and unique per reservation.
// The zero value means "no timestamp".
type Timestamp int64

// IsZero returns true if the timestamp was never set.
func (ts Timestamp) IsZero() bool {
	return ts == 0
}

// Before returns true if ts is strictly smaller than other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts < other
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("Timestamp(%d)", int64(ts))
}

// LogEntry is one record of the replication log: the final contents of a
// document, at the log position the mutation committed at.
type LogEntry struct {
	// Position is the logical timestamp the mutation was written at.
	Position Timestamp
	// Path is the document path the mutation applied to.
	Path string
	// Contents is the full document after the mutation.
	Contents []byte
}

// Conn is a connection to a document store.
//
// All mutating calls couple the document change with a replication log
// record at the given reserved timestamp: either both become durable, or
// neither does.
type Conn interface {
	// Get returns the contents and version of the document at path.
	// Returns NoNamespace if the namespace doesn't exist, and NoNode if
	// the namespace exists but the document doesn't.
	Get(ctx context.Context, path string) (contents []byte, version int64, err error)

	// Create creates the document at path and writes the corresponding
	// log record at slot. Returns NodeExists if the document is already
	// there, NoNamespace if the namespace doesn't exist.
	Create(ctx context.Context, path string, contents []byte, slot Timestamp) (version int64, err error)

	// Update overwrites the document at path if its current version
	// matches version, and writes the corresponding log record at slot.
	// Returns BadVersion on a conflicting concurrent write, NoNode if the
	// document is gone.
	Update(ctx context.Context, path string, contents []byte, version int64, slot Timestamp) (newVersion int64, err error)

	// ReserveTimestamps reserves the next count logical timestamps.
	// The returned values are strictly increasing and never handed out
	// twice.
	ReserveTimestamps(ctx context.Context, count int) ([]Timestamp, error)

	// Watch streams the replication log in commit order, starting at the
	// beginning of the log. Records of one document arrive in timestamp
	// order; records of different documents may interleave. The channel
	// is closed when ctx is done or the connection is closed.
	Watch(ctx context.Context) (<-chan LogEntry, error)

	// Close closes the connection. Pending watches are terminated.
	Close()
}
