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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tenantmove.io/tenantmove/go/tm/donor"
)

var initStore = &cobra.Command{
	Use:   "InitStore",
	Short: "Creates the donor namespaces in the state store. Namespaces are never created implicitly, so run this once per deployment.",
	Args:  cobra.NoArgs,
	RunE:  commandInitStore,
}

func init() {
	Root.AddCommand(initStore)
}

func commandInitStore(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	conn, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.EnsureNamespace(ctx, donor.DonorsNamespace); err != nil {
		return err
	}
	fmt.Printf("namespace %q is ready\n", donor.DonorsNamespace)
	return nil
}
