package main

import (
	"os"

	"github.com/ppiankov/repogate/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
