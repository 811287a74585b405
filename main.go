// Command autograph compiles attack traffic into an executable ActionGraph
// and replays it against a target (see cli.RootCmd).
package main

import (
	"log"

	"autograph.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
