package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/localstore"
	"github.com/shtable/stbsync/internal/sharedtable"
)

var pullCmd = &cobra.Command{
	Use:   "pull <local_store>",
	Short: "Pull changes from the server into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storePath := args[0]

		doc, err := localstore.Load(storePath, localstore.Repository{}, "")
		if err != nil {
			return fmt.Errorf("load local store: %w", err)
		}
		cred, err := resolveCredentialProvider()
		if err != nil {
			return err
		}

		table := sharedtable.New(doc, cred, nil)
		changes, conflicts, err := table.Pull(context.Background())
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		if err := doc.Save(storePath); err != nil {
			return fmt.Errorf("save local store: %w", err)
		}
		fmt.Printf("pulled: %d change(s), %d conflict(s)\n", changes, conflicts)
		return nil
	},
}
