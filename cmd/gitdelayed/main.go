package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"gitdelayed/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
		os.Exit(cli.ExitCode(err))
	}
}
