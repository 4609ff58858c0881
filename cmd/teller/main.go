package main

import (
	"os"

	"github.com/dativo-io/teller/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
