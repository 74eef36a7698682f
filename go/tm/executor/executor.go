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

// Package executor provides the task executor migration components use to
// schedule background work, like talking to the recipient node. It is an
// injected capability: the process creates one executor at startup and
// passes it to whatever needs it. Nothing in this package knows about the
// migration protocol.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/tmerrors"

	"google.golang.org/grpc/codes"
)

const poolName = "TenantMigrationWorkerPool"

// TaskExecutor runs submitted tasks on a bounded pool of goroutines.
type TaskExecutor struct {
	sem *semaphore.Weighted

	// ctx is the root context for all tasks. cancel cancels it, thereby
	// all running tasks.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

// NewTaskExecutor returns an executor that runs at most maxConcurrency
// tasks at a time.
func NewTaskExecutor(maxConcurrency int64) *TaskExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskExecutor{
		sem:    semaphore.NewWeighted(maxConcurrency),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task on the pool. It blocks until a worker slot is
// available or ctx is done. The task receives a context that is canceled
// when the executor shuts down.
func (te *TaskExecutor) Submit(ctx context.Context, task func(ctx context.Context)) error {
	te.mu.Lock()
	if te.shutdown {
		te.mu.Unlock()
		return tmerrors.Errorf(codes.Unavailable, "%v: executor is shut down", poolName)
	}
	te.wg.Add(1)
	te.mu.Unlock()

	if err := te.sem.Acquire(ctx, 1); err != nil {
		te.wg.Done()
		return tmerrors.Wrapf(err, "%v: could not acquire a worker slot", poolName)
	}

	go func() {
		defer te.wg.Done()
		defer te.sem.Release(1)
		task(te.ctx)
	}()
	return nil
}

// Shutdown cancels the contexts of running tasks and waits for all of
// them to return. Further Submit calls fail.
func (te *TaskExecutor) Shutdown() {
	te.mu.Lock()
	if te.shutdown {
		te.mu.Unlock()
		return
	}
	te.shutdown = true
	te.mu.Unlock()

	te.cancel()
	te.wg.Wait()
	log.Infof("%v: shut down", poolName)
}
