package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/localstore"
	"github.com/shtable/stbsync/internal/sharedtable"
)

var pushCmd = &cobra.Command{
	Use:   "push <local_store>",
	Short: "Push local modifications and pending-new rows to the server",
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
		if err := table.Push(context.Background()); err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if err := doc.Save(storePath); err != nil {
			return fmt.Errorf("save local store: %w", err)
		}
		fmt.Println("push complete")
		return nil
	},
}
