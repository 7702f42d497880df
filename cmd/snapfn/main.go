package main

import (
	"fmt"
	"os"

	"github.com/yndnr/snapfn-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(args(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// args defaults to the lambda command when the platform runtime API is
// present and no command was given.
func args(argv []string) []string {
	if len(argv) == 1 && os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		return append(argv, "lambda")
	}
	return argv
}
