// Command platewatch watches the plate table of a Vaxreader camera and
// forwards each new detection, enriched with make and model, downstream.
//
// Usage:
//
//	platewatch run -c platewatch.yaml
//	platewatch history --plate ABC123
//	platewatch snapshots
//	platewatch mcp -c platewatch.yaml
//	platewatch config check -c platewatch.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "platewatch:", err)
		os.Exit(1)
	}
}
