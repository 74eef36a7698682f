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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// This file contains all status variables which can be used to monitor
// access blocking.

var (
	// writesDenied tracks writes rejected because the tenant is migrating.
	writesDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_blocker_writes_denied_total",
		Help: "Number of writes denied because the tenant's migration has started blocking",
	})

	// readsParked tracks reads that had to wait for a migration to resolve.
	readsParked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_blocker_reads_parked_total",
		Help: "Number of reads parked at or past the migration cutover timestamp",
	})

	// readsResumed tracks parked reads released by a resolution, split by
	// the migration outcome they observed.
	readsResumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm_blocker_reads_resumed_total",
		Help: "Number of parked reads released, by migration outcome",
	}, []string{"outcome"})

	// blockersRegistered is the number of live access blockers on this node.
	blockersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tm_blocker_registered",
		Help: "Number of tenants with a live access blocker on this node",
	})
)
