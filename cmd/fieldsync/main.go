// Command fieldsync runs the offline-first synchronization engine: a daemon
// that watches connectivity and syncs local field records to the remote
// store, plus one-shot maintenance commands.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
