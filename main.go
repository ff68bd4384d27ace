// Strata - Cross-repository knowledge graph for architecture analysis.
//
// Strata merges the fact bundles that per-repository scanners emit into
// one knowledge graph, then answers impact, cycle, hub and orphan queries
// and checks architecture rules against it.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/strata/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
