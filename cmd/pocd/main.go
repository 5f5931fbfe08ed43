package main

import (
	"os"

	"github.com/paw-chain/poc/cmd/pocd/cmd"
)

func main() {
	if err := cmd.Execute(cmd.NewRootCmd()); err != nil {
		os.Exit(1)
	}
}
