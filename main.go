package main

import (
	"os"

	"github.com/lucasmaystre/fprior/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
