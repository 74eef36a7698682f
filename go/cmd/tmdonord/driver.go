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

package main

import (
	"context"
	"time"

	"github.com/spf13/pflag"

	"tenantmove.io/tenantmove/go/tm/donor"
	"tenantmove.io/tenantmove/go/tm/executor"
	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore"
)

var dataSyncDuration = 10 * time.Second

func registerDriverFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&dataSyncDuration, "data_sync_duration", dataSyncDuration, "originator only: how long to let the recipient catch up before blocking tenant access")
}

// driver is the originator's transition sink. It applies every committed
// document through the applier first, and additionally moves a migration
// forward when it sees one enter data sync: once the recipient has had
// its catch-up window, the driver begins blocking.
//
// Committing or aborting stays with the operator (tmctl); the driver
// never resolves a migration on its own.
type driver struct {
	applier *donor.Applier
	conn    statestore.Conn
	exec    *executor.TaskExecutor
}

func newDriver(applier *donor.Applier, conn statestore.Conn, exec *executor.TaskExecutor) *driver {
	return &driver{
		applier: applier,
		conn:    conn,
		exec:    exec,
	}
}

// OnDonorStateTransition implements donor.TransitionSink.
func (d *driver) OnDonorStateTransition(ctx context.Context, contents []byte) error {
	if err := d.applier.OnDonorStateTransition(ctx, contents); err != nil {
		return err
	}

	doc, err := donor.ParseDocument(contents)
	if err != nil {
		return err
	}
	if doc.State != donor.StateDataSync {
		return nil
	}

	return d.exec.Submit(ctx, func(ctx context.Context) {
		d.runDataSync(ctx, doc)
	})
}

// runDataSync waits out the recipient catch-up window, then drives the
// migration into blocking. The document passed in is the pre-image the
// blocking write is conditioned on, so a migration moved by someone else
// in the meantime fails the update instead of being clobbered.
func (d *driver) runDataSync(ctx context.Context, doc *donor.Document) {
	log.Infof("tenant %q migration %v: data sync running, blocking in %v", doc.TenantID, doc.ID, dataSyncDuration)
	select {
	case <-ctx.Done():
		log.Warningf("tenant %q migration %v: data sync canceled: %v", doc.TenantID, doc.ID, ctx.Err())
		return
	case <-time.After(dataSyncDuration):
	}

	if _, err := donor.BeginBlocking(ctx, d.conn, d.applier, doc); err != nil {
		log.Errorf("tenant %q migration %v: could not begin blocking: %v", doc.TenantID, doc.ID, err)
	}
}
