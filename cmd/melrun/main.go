// SPDX-License-Identifier: AGPL-3.0-or-later

// melrun is a small devtools binary: it loads a HostOptions file, boots an
// in-memory world store and host loop, submits the canned counter schema,
// and prints the resulting trace. It is not a schema-authoring front end.
package main

import (
	"fmt"
	"os"

	"melrun/internal/devtools/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		// Avoid printing Cobra's default error twice; centralize exit
		// code handling here.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
