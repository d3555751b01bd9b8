// The main package for the watchtower executable.
package main

import (
	"fmt"
	"os"

	"github.com/calvin1011/watchtower/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
