// Command gitpodcast drives the podcast orchestrator from the terminal,
// against the configured generation backend or the offline stub.
package main

import (
	"fmt"
	"os"
)

func main() {
	root, a := newRootCmd()
	if err := a.execute(root); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
