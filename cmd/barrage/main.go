package main

import (
	"os"

	"github.com/wesleyorama2/barrage/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
