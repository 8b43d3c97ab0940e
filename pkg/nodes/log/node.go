// Package log provides the log node, which writes a rendered message to the
// process logger and passes it on as output.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	flowlog "github.com/dukex/flowcore/pkg/log"
	"github.com/dukex/flowcore/pkg/template"
)

type LogNode struct {
	id        string
	message   string
	levelName string
	level     slog.Level
	logger    *slog.Logger
}

// NewLogNode creates a log node. Unknown levels log at info.
func NewLogNode(id string, config map[string]any, logger *slog.Logger) (*LogNode, error) {
	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	levelName := "info"
	if name, ok := config["level"].(string); ok && name != "" {
		levelName = strings.ToLower(name)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &LogNode{
		id:        id,
		message:   message,
		levelName: levelName,
		level:     flowlog.ParseLevel(levelName),
		logger:    logger.With("node_id", id, "node_type", "log"),
	}, nil
}

func (n *LogNode) ID() string {
	return n.id
}

func (n *LogNode) Type() string {
	return "log"
}

func (n *LogNode) Execute(ctx context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	message, err := template.RenderString(n.message, input, executionContext)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message template: %w", err)
	}

	n.logger.Log(ctx, n.level, message)

	return map[string]any{
		"message": message,
		"level":   n.levelName,
		"logged":  true,
	}, nil
}
