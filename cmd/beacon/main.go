package main

import (
	"os"

	"github.com/perimetric/beacon/cmd/beacon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
