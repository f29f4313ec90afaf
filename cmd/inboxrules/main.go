package main

import (
	"os"

	"github.com/joshsymonds/inboxrules/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
