// The main package for the ingestd executable.
package main

import (
	"github.com/trendwire/ingest/cmd"
)

func main() {
	cmd.Execute()
}
