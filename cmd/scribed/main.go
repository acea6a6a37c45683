// Package main provides the entry point for the scribed CLI.
package main

import (
	"os"

	"github.com/aman-cerp/scribe/cmd/scribed/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
