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

package command

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tenantmove.io/tenantmove/go/tm/log"
	"tenantmove.io/tenantmove/go/tm/statestore/etcdstore"
)

var (
	statestoreAddr string
	statestoreRoot string

	// Root is the main tmctl command.
	Root = &cobra.Command{
		Use:   "tmctl",
		Short: "tmctl manages tenant migration state documents on the donor.",
		Long: "`tmctl` is a command-line client for operating donor-side tenant migrations.\n\n" +
			"It creates, advances and inspects the per-migration state documents in the\n" +
			"replicated state store. The donor node processes observe those documents\n" +
			"through the replication log and enforce the access blocking they describe.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags win over environment, environment over defaults.
			statestoreAddr = viper.GetString("statestore_addr")
			statestoreRoot = viper.GetString("statestore_root")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Flush()
		},
	}
)

func init() {
	fs := Root.PersistentFlags()
	fs.StringVar(&statestoreAddr, "statestore", "localhost:2379", "comma separated list of etcd endpoints backing the state store")
	fs.StringVar(&statestoreRoot, "statestore-root", "/tenantmove", "root path for state store data in etcd")
	log.RegisterFlags(fs)
	etcdstore.RegisterFlags(fs)

	viper.SetEnvPrefix("tm")
	viper.AutomaticEnv()
	viper.SetDefault("statestore_addr", "localhost:2379")
	viper.SetDefault("statestore_root", "/tenantmove")
	if err := viper.BindPFlag("statestore_addr", fs.Lookup("statestore")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("statestore_root", fs.Lookup("statestore-root")); err != nil {
		panic(err)
	}
}

// connect opens the etcd state store with the configured endpoints.
func connect() (*etcdstore.Store, error) {
	return etcdstore.NewStore(statestoreAddr, statestoreRoot)
}
