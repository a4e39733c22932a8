package main

import (
	"os"

	"github.com/convoy-run/convoy/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
