package main

import (
	"os"

	"github.com/renholm/stagehand/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
