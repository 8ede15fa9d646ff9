// Package main is the entry point for the kpisim application
package main

import (
	"github.com/ethpandaops/kpisim/cmd"

	_ "github.com/lib/pq"
)

func main() {
	cmd.Execute()
}
