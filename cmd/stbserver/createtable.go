package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/store"
)

var createTableCmd = &cobra.Command{
	Use:   "createtable <dbfile> <tablename> <tabletype>",
	Short: "Create the relational table and tver index for a new shared table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbfile, tablename, tabletype := args[0], args[1], args[2]
		switch tabletype {
		case "stbcsv", "csv", "other":
		default:
			return fmt.Errorf(`tabletype must be one of "stbcsv", "csv", "other", got %q`, tabletype)
		}

		ctx := context.Background()
		pool, err := store.OpenPool(ctx, dbfile, store.DefaultPoolConfig(), nil)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()

		if err := store.CreateTable(ctx, pool, tablename); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		log.Info().Str("table", tablename).Str("type", tabletype).Msg("table created")
		return nil
	},
}
