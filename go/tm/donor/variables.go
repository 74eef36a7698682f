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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsApplied counts donor state transitions applied on this
	// node, by state and by the path that applied them.
	transitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm_donor_transitions_applied_total",
		Help: "Donor state transitions applied, by state and role",
	}, []string{"state", "role"})

	// blockingWriteRetries counts optimistic-concurrency retries of the
	// begin-blocking coordinated write.
	blockingWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_donor_blocking_write_retries_total",
		Help: "Write-conflict retries of the begin-blocking document update",
	})
)
