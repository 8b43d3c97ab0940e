// Package main provides the flowcore command line tool.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "flowcore",
		Usage:                 "Inspect and validate workflow graphs",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Validate a workflow graph file (YAML or JSON)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the graph file",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the validation result as JSON",
					},
				},
				Action: validateAction,
			},
			{
				Name:   "nodes",
				Usage:  "List the built-in node types",
				Action: nodesAction,
			},
		},
	}
}
