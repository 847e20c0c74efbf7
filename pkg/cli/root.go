// Package cli implements the flowgraph command line: editing workflow graphs
// through the store, running them through the engine and managing the
// persisted documents, run history and credentials.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/flowgraph/internal/ctxlog"
)

// Version is the current version of flowgraph.
const Version = "0.1.0"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigDir string
	Debug     bool
	LogLevel  string
	LogFormat string
}

// GlobalConfig is the shared flag instance.
var GlobalConfig = &GlobalFlags{}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowgraph",
		Short: "flowgraph - build and run node workflow graphs",
		Long: `flowgraph edits directed graphs of typed nodes, resolves {{ node.field }}
references between them and runs them in dependency order.

Workflows, run history and configuration live in ~/.flowgraph unless
--config-dir or FLOWGRAPH_CONFIG_DIR points elsewhere.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, err := initConfigDir()
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := LoadConfig(dir)
			if err != nil {
				return err
			}

			level, format := cfg.LogLevel, cfg.LogFormat
			if GlobalConfig.LogLevel != "" {
				level = GlobalConfig.LogLevel
			}
			if GlobalConfig.LogFormat != "" {
				format = GlobalConfig.LogFormat
			}
			if GlobalConfig.Debug {
				level = "debug"
			}
			logger, err := NewLogger(cmd.ErrOrStderr(), level, format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = ctxlog.WithLogger(ctx, logger)
			ctx = withConfig(ctx, dir, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&GlobalConfig.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&GlobalConfig.ConfigDir, "config-dir", "", "Configuration directory (default: ~/.flowgraph)")
	cmd.PersistentFlags().StringVar(&GlobalConfig.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	cmd.PersistentFlags().StringVar(&GlobalConfig.LogFormat, "log-format", "", "Log format: text or json (default from config)")

	cmd.AddCommand(
		NewCreateCommand(),
		NewListCommand(),
		NewShowCommand(),
		NewDeleteCommand(),
		NewRenameCommand(),
		NewStatusCommand(),
		NewNodeCommand(),
		NewConnectCommand(),
		NewDisconnectCommand(),
		NewValidateCommand(),
		NewPreviewCommand(),
		NewRunCommand(),
		NewRunsCommand(),
		NewExportCommand(),
		NewImportCommand(),
		NewCredentialCommand(),
		NewNodeTypesCommand(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// GetConfigDir returns the configuration directory. FLOWGRAPH_CONFIG_DIR takes
// priority over --config-dir, which takes priority over ~/.flowgraph.
func GetConfigDir() string {
	if envDir := os.Getenv("FLOWGRAPH_CONFIG_DIR"); envDir != "" {
		return envDir
	}
	if GlobalConfig.ConfigDir != "" {
		return GlobalConfig.ConfigDir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".flowgraph"
	}
	return filepath.Join(homeDir, ".flowgraph")
}

func initConfigDir() (string, error) {
	dir := GetConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// NewLogger builds the process logger.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

type configKey struct{}

type configValue struct {
	dir string
	cfg *Config
}

func withConfig(ctx context.Context, dir string, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, configValue{dir: dir, cfg: cfg})
}

func configFrom(ctx context.Context) (string, *Config) {
	if v, ok := ctx.Value(configKey{}).(configValue); ok {
		return v.dir, v.cfg
	}
	return GetConfigDir(), DefaultConfig()
}
