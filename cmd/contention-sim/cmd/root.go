// Package cmd implements the contention-sim command line: running a scenario against a backing
// store, bootstrapping its schema, and listing the built-in scenarios.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const serviceName = "contention-simulator"

// rootOptions are the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "contention-sim",
		Short: "Reproduce database contention anomalies on demand",
		Long: `
Runs a role-based pool of concurrent workers against a database and biases their lock order
and key distribution so that deadlocks, bloat, or hotspots become statistically likely.

Configuration is read from an optional YAML file (--config), CONTENTION_* environment variables
and flags, on top of the defaults of the selected scenario. Example file:

scenario: deadlock
workers:
  buyer: 30
skew_probability: 0.5
retry:
  max_attempts: 5
backend:
  kind: mysql
  dsn: app:app@tcp(localhost:3306)/techstore
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "json", "log format: json or text")

	root.AddCommand(
		newRunCmd(opts),
		newSchemaCmd(opts),
		newScenariosCmd(),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	return 0
}

// newLogger builds the process logger writing to w.
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handlerOptions := &slog.HandlerOptions{Level: slogLevel}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOptions)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOptions)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
