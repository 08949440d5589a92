package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memtrace/internal/store"
	"github.com/rcliao/memtrace/internal/tracefile"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON-lines trace",
		Long:  "Import a JSON-lines trace from a file, or from stdin when the file is \"-\".",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}

	cmd.Flags().StringP("name", "n", "", "Trace name (default: header name, else file name)")
	cmd.Flags().Duration("lock-timeout", 10*time.Second, "How long to wait for another import to finish")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	lockTimeout, _ := cmd.Flags().GetDuration("lock-timeout")

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open trace", err)
		}
		defer f.Close()
		r = f
	}

	trace, err := tracefile.Decode(r)
	if err != nil {
		exitErr("decode trace", err)
	}
	switch {
	case name != "":
		trace.Name = name
	case trace.Name == "" && args[0] != "-":
		trace.Name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	case trace.Name == "":
		trace.Name = "stdin"
	}

	// Imports are the only bulk writers; serialize them across processes.
	lock := flock.New(getDBPath() + ".lock")
	ctx, cancel := context.WithTimeout(cmd.Context(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		exitErr("lock database", fmt.Errorf("another import holds %s: %v", lock.Path(), err))
	}
	defer lock.Unlock()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	info, err := s.PutTrace(cmd.Context(), trace)
	if err != nil {
		exitErr("import", err)
	}
	logger.Info("trace imported",
		zap.String("id", info.ID),
		zap.Int("streams", info.StreamCount),
		zap.Int("tokens", info.TokenCount))

	if textOutput() {
		renderTraces(stdout, []store.TraceInfo{*info})
		return
	}
	printJSON(info)
}
