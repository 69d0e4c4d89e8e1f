// Command blockflow hosts an ordered outline of blocks and keeps it in sync
// between memory, a local snapshot cache and a remote store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
