// Command devmesh runs the agent mesh as a server or answers one-shot
// requests from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
