// refkit is the command line client: it fetches referenced records, lists
// candidate choices and shows picker suggestions.
package main

import (
	"os"

	"github.com/runger/refkit/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
