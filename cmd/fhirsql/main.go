// Command fhirsql compiles FHIRPath expressions to SQL.
package main

import (
	"os"

	"github.com/roach88/fhirsql/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
