// Package main provides the entry point for the annworker CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/annworker/cmd/annworker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
