// Command stbclient drives one shared table's local store: importing and
// exporting CSV snapshots, applying positional updates, and syncing with the
// server over pull/push.
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	err := Execute()
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err)
	if strings.Contains(err.Error(), "unknown command") {
		os.Exit(255)
	}
	os.Exit(1)
}
