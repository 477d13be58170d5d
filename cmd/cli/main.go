// Command pixctl operates a pixflow deployment: serve the API, trigger
// reconciliation passes, inspect status and manage the schema.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var Version = "dev"

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
