package main

import (
	"os"

	"github.com/feedvault/feedvault/internal/commands"
	"github.com/feedvault/feedvault/internal/errors"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(errors.ErrorToCode(err))
	}
}
