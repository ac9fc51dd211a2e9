package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/credential"
)

var rootCmd = &cobra.Command{
	Use:           "stbclient",
	Short:         "Shared-table sync client: local-store import/export/update and pull/push",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// credentialSource picks the credential.Provider used to resolve the local
// store's password reference; "env" lets a local store hold an
// "env:VARNAME" indirection instead of a plaintext secret.
var credentialSource string

func init() {
	rootCmd.PersistentFlags().StringVar(&credentialSource, "credential-source", "static", `how to resolve the stored password reference: "static" or "env"`)
	rootCmd.AddCommand(initCmd, importCmd, exportCmd, updateCmd, pullCmd, pushCmd)
}

func resolveCredentialProvider() (credential.Provider, error) {
	switch credentialSource {
	case "static":
		return credential.Static{}, nil
	case "env":
		return credential.Env{}, nil
	default:
		return nil, fmt.Errorf(`--credential-source must be "static" or "env", got %q`, credentialSource)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
