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

package etcdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

const (
	docsPrefix = "docs"
	nsPrefix   = "ns"
	logPrefix  = "log"
	clockKey   = "clock"
)

func (s *Store) docKey(docPath string) string {
	return path.Join(s.root, docsPrefix, docPath)
}

func (s *Store) nsKey(docPath string) string {
	ns := strings.SplitN(docPath, "/", 2)[0]
	return path.Join(s.root, nsPrefix, ns)
}

func (s *Store) logKey(slot statestore.Timestamp) string {
	// Zero padded so lexical key order equals numeric timestamp order.
	return path.Join(s.root, logPrefix, fmt.Sprintf("%020d", int64(slot)))
}

// logRecord is the value stored under a log key. The document path is
// not recoverable from the key, so it rides along with the contents.
type logRecord struct {
	Path     string          `json:"path"`
	Contents json.RawMessage `json:"contents"`
}

func encodeLogRecord(docPath string, contents []byte) (string, error) {
	value, err := json.Marshal(logRecord{Path: docPath, Contents: contents})
	if err != nil {
		return "", tmerrors.Wrapf(err, "encoding log record for %q", docPath)
	}
	return string(value), nil
}

// EnsureNamespace creates the namespace marker if it is not there yet.
// Namespaces are never created implicitly by document writes.
func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	_, err := s.cli.Put(ctx, path.Join(s.root, nsPrefix, ns), "")
	return convertError(err, ns)
}

// Get is part of statestore.Conn. The document and its namespace marker
// are read in one transaction so the NoNode/NoNamespace distinction is
// made against a single revision.
func (s *Store) Get(ctx context.Context, docPath string) ([]byte, int64, error) {
	resp, err := s.cli.Txn(ctx).Then(
		clientv3.OpGet(s.docKey(docPath)),
		clientv3.OpGet(s.nsKey(docPath)),
	).Commit()
	if err != nil {
		return nil, 0, convertError(err, docPath)
	}

	docResp := resp.Responses[0].GetResponseRange()
	nsResp := resp.Responses[1].GetResponseRange()
	if len(nsResp.Kvs) == 0 {
		return nil, 0, statestore.NewError(statestore.NoNamespace, docPath)
	}
	if len(docResp.Kvs) == 0 {
		return nil, 0, statestore.NewError(statestore.NoNode, docPath)
	}
	kv := docResp.Kvs[0]
	return kv.Value, kv.ModRevision, nil
}

// Create is part of statestore.Conn.
func (s *Store) Create(ctx context.Context, docPath string, contents []byte, slot statestore.Timestamp) (int64, error) {
	record, err := encodeLogRecord(docPath, contents)
	if err != nil {
		return 0, err
	}
	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(s.docKey(docPath)), "=", 0),
		clientv3.Compare(clientv3.CreateRevision(s.nsKey(docPath)), ">", 0),
	).Then(
		clientv3.OpPut(s.docKey(docPath), string(contents)),
		clientv3.OpPut(s.logKey(slot), record),
	).Else(
		clientv3.OpGet(s.nsKey(docPath)),
	).Commit()
	if err != nil {
		return 0, convertError(err, docPath)
	}
	if !resp.Succeeded {
		if len(resp.Responses[0].GetResponseRange().Kvs) == 0 {
			return 0, statestore.NewError(statestore.NoNamespace, docPath)
		}
		return 0, statestore.NewError(statestore.NodeExists, docPath)
	}
	return resp.Header.Revision, nil
}

// Update is part of statestore.Conn. The mod-revision compare is the
// conflict detection: a concurrent writer moved the revision, the
// transaction fails, and the caller's retry wrapper re-runs the whole
// read-reserve-write step.
func (s *Store) Update(ctx context.Context, docPath string, contents []byte, version int64, slot statestore.Timestamp) (int64, error) {
	record, err := encodeLogRecord(docPath, contents)
	if err != nil {
		return 0, err
	}
	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.ModRevision(s.docKey(docPath)), "=", version),
	).Then(
		clientv3.OpPut(s.docKey(docPath), string(contents)),
		clientv3.OpPut(s.logKey(slot), record),
	).Else(
		clientv3.OpGet(s.docKey(docPath)),
	).Commit()
	if err != nil {
		return 0, convertError(err, docPath)
	}
	if !resp.Succeeded {
		if len(resp.Responses[0].GetResponseRange().Kvs) == 0 {
			return 0, statestore.NewError(statestore.NoNode, docPath)
		}
		return 0, statestore.NewError(statestore.BadVersion, docPath)
	}
	return resp.Header.Revision, nil
}

// ReserveTimestamps is part of statestore.Conn. The logical clock is a
// counter key advanced with a compare-and-swap; the loop retries lost
// races against other reservers.
func (s *Store) ReserveTimestamps(ctx context.Context, count int) ([]statestore.Timestamp, error) {
	key := path.Join(s.root, clockKey)
	for {
		getResp, err := s.cli.Get(ctx, key)
		if err != nil {
			return nil, convertError(err, clockKey)
		}

		var current int64
		var cmp clientv3.Cmp
		if len(getResp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			current, err = strconv.ParseInt(string(getResp.Kvs[0].Value), 10, 64)
			if err != nil {
				return nil, tmerrors.Wrapf(err, "corrupt logical clock value %q", getResp.Kvs[0].Value)
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", getResp.Kvs[0].ModRevision)
		}

		next := current + int64(count)
		txnResp, err := s.cli.Txn(ctx).If(cmp).Then(
			clientv3.OpPut(key, strconv.FormatInt(next, 10)),
		).Commit()
		if err != nil {
			return nil, convertError(err, clockKey)
		}
		if !txnResp.Succeeded {
			// Lost the race against another reserver. Try again.
			continue
		}

		slots := make([]statestore.Timestamp, count)
		for i := range slots {
			slots[i] = statestore.Timestamp(current + int64(i) + 1)
		}
		return slots, nil
	}
}

// Watch is part of statestore.Conn. It streams the log prefix from the
// beginning of history. etcd delivers events in commit (revision) order;
// for records of one document that matches timestamp order, because the
// mod-revision guard serializes the document's writes. Records of
// unrelated documents may interleave out of timestamp order.
func (s *Store) Watch(ctx context.Context) (<-chan statestore.LogEntry, error) {
	prefix := path.Join(s.root, logPrefix) + "/"
	wch := s.cli.Watch(clientv3.WithRequireLeader(ctx), prefix,
		clientv3.WithPrefix(), clientv3.WithRev(1))

	entries := make(chan statestore.LogEntry, 10)
	go func() {
		defer close(entries)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.running:
				return
			case wresp, ok := <-wch:
				if !ok {
					return
				}
				if wresp.Err() != nil {
					// A compacted or canceled watch cannot guarantee the
					// exactly-once, in-order contract any more.
					log.Errorf("etcdstore: log watch failed: %v", wresp.Err())
					return
				}
				for _, ev := range wresp.Events {
					entry, err := s.logEntryFromEvent(prefix, ev.Kv.Key, ev.Kv.Value)
					if err != nil {
						log.Errorf("etcdstore: skipping malformed log record %q: %v", ev.Kv.Key, err)
						continue
					}
					select {
					case entries <- entry:
					case <-ctx.Done():
						return
					case <-s.running:
						return
					}
				}
			}
		}
	}()
	return entries, nil
}

// logEntryFromEvent rebuilds a LogEntry from a log key/value pair.
func (s *Store) logEntryFromEvent(prefix string, key, value []byte) (statestore.LogEntry, error) {
	ts, err := strconv.ParseInt(strings.TrimPrefix(string(key), prefix), 10, 64)
	if err != nil {
		return statestore.LogEntry{}, tmerrors.Wrapf(err, "log key %q has no parseable timestamp", key)
	}
	var record logRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return statestore.LogEntry{}, tmerrors.Wrapf(err, "log record %q has unparseable contents", key)
	}
	return statestore.LogEntry{
		Position: statestore.Timestamp(ts),
		Path:     record.Path,
		Contents: record.Contents,
	}, nil
}
