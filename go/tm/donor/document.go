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
	"encoding/json"
	"path"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// DonorsNamespace is the namespace (document collection) holding one
// donor state document per in-flight migration.
const DonorsNamespace = "migrationDonors"

// State is the persisted state of a donor-side migration.
type State string

// The donor state machine: DataSync → Blocking → {Committed, Aborted}.
const (
	StateDataSync  State = "dataSync"
	StateBlocking  State = "blocking"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// valid returns true if s is one of the recognized states.
func (s State) valid() bool {
	switch s {
	case StateDataSync, StateBlocking, StateCommitted, StateAborted:
		return true
	}
	return false
}

// terminal returns true for Committed and Aborted.
func (s State) terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Document is the persisted, replicated state of one migration on the
// donor. Every mutation of it flows through the replication log, so all
// nodes observe the same sequence of states.
type Document struct {
	// ID uniquely names this migration instance.
	ID uuid.UUID `json:"id"`
	// TenantID names the tenant being migrated. At most one in-flight
	// migration exists per tenant on a donor.
	TenantID string `json:"tenantId"`
	// State is the current state machine position.
	State State `json:"state"`
	// BlockTimestamp is set exactly once, by the write that moves the
	// document into StateBlocking, and equals the replication-log
	// position of that very write. It is never revised afterwards.
	BlockTimestamp statestore.Timestamp `json:"blockTimestamp,omitempty"`
}

// StorePath returns the document's path in the state store.
func (d *Document) StorePath() string {
	return path.Join(DonorsNamespace, d.TenantID)
}

// Encode serializes the document for storage.
func (d *Document) Encode() ([]byte, error) {
	contents, err := json.Marshal(d)
	if err != nil {
		return nil, tmerrors.Wrapf(err, "failed to encode donor document for tenant %q", d.TenantID)
	}
	return contents, nil
}

// ParseDocument decodes and structurally validates a donor document.
// The documents are produced by trusted internal writers, so a malformed
// one indicates corruption or version skew: the returned error carries
// codes.Internal and must not be ignored.
func ParseDocument(contents []byte) (*Document, error) {
	// Sniff the state field first: it catches truncated or foreign
	// payloads with a precise error before the full decode.
	state, err := jsonparser.GetString(contents, "state")
	if err != nil {
		return nil, tmerrors.Errorf(codes.Internal, "donor document has no readable state field: %v", err)
	}
	if !State(state).valid() {
		return nil, tmerrors.Errorf(codes.Internal, "donor document has unrecognized state %q", state)
	}

	doc := &Document{}
	if err := json.Unmarshal(contents, doc); err != nil {
		return nil, tmerrors.Errorf(codes.Internal, "failed to decode donor document: %v", err)
	}
	if doc.TenantID == "" {
		return nil, tmerrors.Errorf(codes.Internal, "donor document has no tenantId")
	}
	if doc.ID == uuid.Nil {
		return nil, tmerrors.Errorf(codes.Internal, "donor document has no id")
	}
	if doc.State == StateDataSync && !doc.BlockTimestamp.IsZero() {
		return nil, tmerrors.Errorf(codes.Internal,
			"donor document for tenant %q carries a block timestamp before blocking began", doc.TenantID)
	}
	return doc, nil
}
