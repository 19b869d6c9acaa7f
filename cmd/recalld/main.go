package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/recall/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}

	if handled, err := cli.HelpJSON(rootCmd, args, os.Stdout); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
