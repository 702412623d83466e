// catalog-tool checks the rule tables the engine loads at start-up: the
// action catalog, search sources, gazetteer and intent rules.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
