// Command splicer is the collaborator CLI surface of spec §6: it wraps
// the splicer package's two operations, stub-wasi and splice-bindings,
// reading an engine module from a file and writing the result back out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// appFs is the filesystem every subcommand reads and writes through.
// Swapped for an in-memory afero.Fs in tests.
var appFs afero.Fs = afero.NewOsFs()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
