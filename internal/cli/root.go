// Package cli implements the memtrace CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/rcliao/memtrace/internal/config"
	"github.com/rcliao/memtrace/internal/logging"
	"github.com/rcliao/memtrace/internal/store"
)

var (
	dbPath     string
	formatFlag string
	configFlag string
	logLevel   string

	cfg    = config.Default()
	logger = zap.NewNop()

	stdout io.Writer = os.Stdout
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memtrace",
	Short: "Replay GPU memory traces",
	Long: "Import captured GPU memory-event traces and reconstruct allocations, resources and " +
		"physical backing at any point in time. SQLite-backed, single binary.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMTRACE_DB or ~/.memtrace/traces.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "", "Output format: json, text or auto (default from config, else json)")
	RootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: $MEMTRACE_CONFIG or ~/.memtrace/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(config.Path(configFlag))
	if err != nil {
		return err
	}
	cfg = loaded
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if formatFlag != "" {
		cfg.Output.Format = formatFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	l, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MEMTRACE_DB"); env != "" {
		return env
	}
	if cfg.DB != "" {
		return cfg.DB
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memtrace", "traces.db")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

// textOutput reports whether results should be rendered for humans.
func textOutput() bool {
	switch cfg.Output.Format {
	case "text":
		return true
	case "auto":
		return term.IsTerminal(int(os.Stdout.Fd()))
	default:
		return false
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(stdout, string(b))
}

func exitErr(msg string, err error) {
	logger.Sync()
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
