// Command nanodbctl is the single entry point for running nanodb and
// administering it: serve starts the HTTP API, bootstrap seeds the first
// superuser, and schema export/import round-trips collection schemas as
// YAML.
package main

import (
	"fmt"
	"os"

	"github.com/bridevmx/nanodb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
