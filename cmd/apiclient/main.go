package main

import (
	"fmt"
	"os"

	"github.com/AmmannChristian/go-apiclient/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
