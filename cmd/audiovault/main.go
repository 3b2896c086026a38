// AudioVault server binary. All behavior lives in the commands package;
// this file only dispatches.
package main

import (
	"fmt"
	"os"

	"github.com/audiovault/audiovault/cmd/audiovault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
