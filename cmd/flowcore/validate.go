package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukex/flowcore/pkg/cmd"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
)

func loadGraph(path string) (*models.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var workflowGraph models.WorkflowGraph

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()

		if err := decoder.Decode(&workflowGraph); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &workflowGraph); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return &workflowGraph, nil
}

func validateAction(_ context.Context, command *cli.Command) error {
	workflowGraph, err := loadGraph(command.String("file"))
	if err != nil {
		return err
	}

	validator := graph.NewValidator(cmd.NewRegistry(slog.New(slog.DiscardHandler), 0))
	result := validator.Validate(workflowGraph)

	out := command.Root().Writer
	if command.Bool("json") {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(out, workflowGraph, result)
	}

	return result.Err()
}

func printResult(w io.Writer, workflowGraph *models.WorkflowGraph, result graph.Result) {
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error   %-28s %s\n", issue.Code, issue.Message)
	}

	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning %-28s %s\n", issue.Code, issue.Message)
	}

	if result.Valid {
		fmt.Fprintf(w, "%s is valid (%d nodes, %d edges, %d warnings)\n",
			workflowGraph.ID, len(workflowGraph.Nodes), len(workflowGraph.Edges), len(result.Warnings))
	} else {
		fmt.Fprintf(w, "%s is invalid (%d errors)\n", workflowGraph.ID, len(result.Errors))
	}
}

func nodesAction(_ context.Context, command *cli.Command) error {
	reg := cmd.NewRegistry(slog.New(slog.DiscardHandler), 0)
	out := command.Root().Writer

	for _, factory := range reg.GetAvailableNodes() {
		fmt.Fprintf(out, "%-14s %s\n", factory.ID(), factory.Description())
	}

	return nil
}
