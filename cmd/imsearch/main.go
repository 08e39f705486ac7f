// Package main provides the entry point for the imsearch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/lolishinshi/imsearch-go/cmd/imsearch/cmd"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

func main() {
	os.Exit(run())
}

// run executes the root command and maps the result to the exit codes
// spec §6 names: 0 success, 1 user error, 2 internal error.
func run() int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "error:", err)

	switch ierrors.GetCategory(err) {
	case ierrors.CategoryInput, ierrors.CategoryConfig, ierrors.CategoryConflict,
		ierrors.CategoryNotFound, ierrors.CategoryTransport:
		return 1
	default:
		return 2
	}
}
