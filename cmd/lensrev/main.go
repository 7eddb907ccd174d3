package main

import (
	"os"

	"github.com/sprite-ai/lensrev/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
