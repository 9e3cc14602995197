// Package main is the single-binary entrypoint for pomociclo.
package main

import "github.com/pomociclo/pomociclo/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
