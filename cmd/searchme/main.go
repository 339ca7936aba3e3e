// Package main provides the entry point for the searchme CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/searchme/cmd/searchme/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
