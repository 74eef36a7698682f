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

// tmdonord is the donor node daemon. It tails the replication log of the
// state store, maintains the per-tenant access blockers this node must
// enforce, and, on the originator, drives migrations from data sync into
// blocking.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"tenantmove.io/tenantmove/go/tm/blocker"
	"tenantmove.io/tenantmove/go/tm/donor"
	"tenantmove.io/tenantmove/go/tm/executor"
	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore/etcdstore"
)

var (
	statestoreAddr = pflag.String("statestore", "localhost:2379", "comma separated list of etcd endpoints backing the state store")
	statestoreRoot = pflag.String("statestore-root", "/tenantmove", "root path for state store data in etcd")
	roleName       = pflag.String("role", "replay", "how this node applies donor transitions: 'originator' on the node driving migrations, 'replay' everywhere else")
	workerCount    = pflag.Int64("workers", 8, "maximum concurrent migration background tasks")
	metricsAddr    = pflag.String("metrics_addr", ":8075", "address to serve /metrics on")
)

func parseRole(name string) (donor.Role, error) {
	switch name {
	case "originator":
		return donor.RoleOriginator, nil
	case "replay":
		return donor.RoleReplay, nil
	}
	return 0, fmt.Errorf("unknown role %q, want 'originator' or 'replay'", name)
}

func main() {
	log.RegisterFlags(pflag.CommandLine)
	etcdstore.RegisterFlags(pflag.CommandLine)
	registerDriverFlags(pflag.CommandLine)
	pflag.Parse()
	defer log.Flush()

	role, err := parseRole(*roleName)
	if err != nil {
		log.Exitf("tmdonord: %v", err)
	}

	conn, err := etcdstore.NewStore(*statestoreAddr, *statestoreRoot)
	if err != nil {
		log.Exitf("tmdonord: cannot connect to the state store at %v: %v", *statestoreAddr, err)
	}
	defer conn.Close()

	registry := blocker.NewRegistry()
	exec := executor.NewTaskExecutor(*workerCount)
	defer exec.Shutdown()

	applier := donor.NewApplier(registry, exec, role)
	var sink donor.TransitionSink = applier
	if role == donor.RoleOriginator {
		sink = newDriver(applier, conn, exec)
	}

	engine := donor.NewEngine(conn, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Open(ctx); err != nil {
		log.Exitf("tmdonord: %v", err)
	}
	defer engine.Close()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Errorf("tmdonord: metrics listener failed: %v", err)
		}
	}()

	log.Infof("tmdonord: serving as %v, state store at %v", role, *statestoreAddr)
	<-ctx.Done()
	log.Infof("tmdonord: shutting down")
}
