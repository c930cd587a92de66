package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// newLogger builds the process logger from --verbose and --log-format.
// Logs go to stderr so stdout stays clean for command output.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("log-format")

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts)), nil
	default:
		return nil, exitError(exitValidation, "unknown log format %q (use text or json)", format)
	}
}
