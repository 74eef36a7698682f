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
	"strings"
	"sync"

	"google.golang.org/grpc/codes"

	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore"
	"tenantmove.io/tenantmove/go/tm/tmerrors"
)

// TransitionSink consumes committed donor documents. *Applier is the
// production implementation; node binaries may wrap it to hook extra
// driving logic onto specific states.
type TransitionSink interface {
	OnDonorStateTransition(ctx context.Context, contents []byte) error
}

// exit terminates the process on unrecoverable replay failures. Tests
// substitute it to observe the failure instead of dying.
var exit = log.Exitf

// Engine is the log-replay invoker: it consumes the state store's
// replication log and feeds every committed donor-document mutation to
// the sink exactly once, in log order.
type Engine struct {
	// mu synchronizes isOpen and cancel.
	mu     sync.Mutex
	isOpen bool

	// cancel stops the replay goroutine.
	cancel context.CancelFunc
	// wg tracks the replay goroutine.
	wg sync.WaitGroup

	conn statestore.Conn
	sink TransitionSink
}

// NewEngine creates a new Engine.
func NewEngine(conn statestore.Conn, sink TransitionSink) *Engine {
	return &Engine{
		conn: conn,
		sink: sink,
	}
}

// Open starts the replay service.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isOpen {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	entries, err := e.conn.Watch(ctx)
	if err != nil {
		cancel()
		return tmerrors.Wrapf(err, "opening the donor replay engine")
	}
	e.cancel = cancel
	e.isOpen = true

	e.wg.Add(1)
	go e.replay(ctx, entries)
	log.Infof("donor replay engine opened")
	return nil
}

// Close stops the replay service and waits for it to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isOpen {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.isOpen = false
	log.Infof("donor replay engine closed")
}

func (e *Engine) replay(ctx context.Context, entries <-chan statestore.LogEntry) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				if ctx.Err() != nil {
					// Close or context expiry ended the stream.
					return
				}
				// Without the log this node cannot learn about new blocking
				// state and would keep admitting writes it must deny.
				exit("donor replay engine: log stream ended, node cannot safely keep serving")
				return
			}
			if !strings.HasPrefix(entry.Path, DonorsNamespace+"/") {
				continue
			}
			if err := e.sink.OnDonorStateTransition(ctx, entry.Contents); err != nil {
				if tmerrors.Code(err) == codes.Internal {
					// A broken protocol invariant. Continuing would serve
					// reads and writes under corrupted blocking state.
					exit("donor replay engine: protocol violation at log position %v: %v", entry.Position, err)
					continue
				}
				log.Errorf("donor replay engine: failed to apply log position %v: %v", entry.Position, err)
			}
		}
	}
}
