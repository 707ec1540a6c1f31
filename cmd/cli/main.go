// Package main is the entry point for zigcheckctl, the terminal client for the
// zigcheck API.
package main

import (
	"os"

	"zigcheck/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
