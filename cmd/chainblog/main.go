package main

import (
	"os"

	"github.com/emilythestrangee/chainblog/backend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
