package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"otakushelf/internal/cli"
)

func main() {
	if err := cli.New().Execute(); err != nil {
		_, _ = fmt.Fprintln(color.Error, color.RedString("error:"), err)
		os.Exit(1)
	}
}
