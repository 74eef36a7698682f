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
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"tenantmove.io/tenantmove/go/tm/donor"
	"tenantmove.io/tenantmove/go/tm/statestore"
)

var actionTimeout = 30 * time.Second

var createMigration = &cobra.Command{
	Use:   "CreateMigration <tenant-id>",
	Short: "Creates a new donor migration document for the tenant, in the data sync state.",
	Args:  cobra.ExactArgs(1),
	RunE:  commandCreateMigration,
}

var commitMigration = &cobra.Command{
	Use:   "CommitMigration <tenant-id>",
	Short: "Moves a blocking migration to committed. Parked reads for the tenant fail over to the recipient.",
	Args:  cobra.ExactArgs(1),
	RunE:  commandCommitMigration,
}

var abortMigration = &cobra.Command{
	Use:   "AbortMigration <tenant-id>",
	Short: "Moves a blocking migration to aborted. Parked reads and new traffic proceed on the donor.",
	Args:  cobra.ExactArgs(1),
	RunE:  commandAbortMigration,
}

var showMigration = &cobra.Command{
	Use:   "ShowMigration <tenant-id>",
	Short: "Prints the donor migration document for the tenant as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  commandShowMigration,
}

func init() {
	Root.PersistentFlags().DurationVar(&actionTimeout, "action_timeout", actionTimeout, "timeout for the total command execution")

	Root.AddCommand(createMigration)
	Root.AddCommand(commitMigration)
	Root.AddCommand(abortMigration)
	Root.AddCommand(showMigration)
}

// withStore runs fn against a freshly opened state store under the
// action timeout.
func withStore(fn func(ctx context.Context, conn statestore.Conn) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	conn, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// fetchDocument reads and decodes the tenant's migration document.
func fetchDocument(ctx context.Context, conn statestore.Conn, tenantID string) (*donor.Document, error) {
	contents, _, err := conn.Get(ctx, path.Join(donor.DonorsNamespace, tenantID))
	if err != nil {
		return nil, err
	}
	return donor.ParseDocument(contents)
}

func printDocument(doc *donor.Document) error {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func commandCreateMigration(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return withStore(func(ctx context.Context, conn statestore.Conn) error {
		doc, err := donor.CreateMigration(ctx, conn, args[0])
		if err != nil {
			return err
		}
		return printDocument(doc)
	})
}

func commandCommitMigration(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return withStore(func(ctx context.Context, conn statestore.Conn) error {
		doc, err := fetchDocument(ctx, conn, args[0])
		if err != nil {
			return err
		}
		updated, err := donor.CommitMigration(ctx, conn, doc)
		if err != nil {
			return err
		}
		return printDocument(updated)
	})
}

func commandAbortMigration(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return withStore(func(ctx context.Context, conn statestore.Conn) error {
		doc, err := fetchDocument(ctx, conn, args[0])
		if err != nil {
			return err
		}
		updated, err := donor.AbortMigration(ctx, conn, doc)
		if err != nil {
			return err
		}
		return printDocument(updated)
	})
}

func commandShowMigration(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return withStore(func(ctx context.Context, conn statestore.Conn) error {
		doc, err := fetchDocument(ctx, conn, args[0])
		if err != nil {
			return err
		}
		return printDocument(doc)
	})
}
