package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/localstore"
)

var initFormat string

var initCmd = &cobra.Command{
	Use:   "init <local_store> <url> <realm> <username> <password_ref>",
	Short: "Create a new, empty local store pointed at a repository",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, url, realm, username, passwordRef := args[0], args[1], args[2], args[3], args[4]
		switch initFormat {
		case "stbcsv", "csv", "other":
		default:
			return fmt.Errorf(`--format must be one of "stbcsv", "csv", "other", got %q`, initFormat)
		}

		doc := localstore.New(localstore.Repository{
			URL:         url,
			Realm:       realm,
			Username:    username,
			PasswordRef: passwordRef,
		}, initFormat)
		if err := doc.Save(path); err != nil {
			return fmt.Errorf("save local store: %w", err)
		}
		fmt.Printf("initialized %s (%s)\n", path, initFormat)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initFormat, "format", "stbcsv", `table format: "stbcsv", "csv", or "other"`)
}
