// Command stbserver is the server-side CLI: it bootstraps a shared table's
// relational storage and serves the HTTP sync endpoint over it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
