// Package cmd provides the CLI commands for annworker.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/annworker/internal/config"
	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/logging"
	"github.com/Aman-CERP/annworker/internal/profiling"
	"github.com/Aman-CERP/annworker/internal/protocol"
	"github.com/Aman-CERP/annworker/internal/worker"
	"github.com/Aman-CERP/annworker/pkg/version"
)

var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()

	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the annworker CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annworker",
		Short: "Approximate nearest neighbor index worker for product search",
		Long: `annworker owns named HNSW vector indexes for semantic product search.

It builds and persists the long-lived global index, keeps a scratch
temporary index for rebuilds, answers similarity queries and embeds
query text, all over a correlated request/response protocol.

Run 'annworker serve' to attach it to a host over stdio or WebSocket.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("annworker version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.annworker/logs/")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "Directory searched for .annworker.yaml")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Mem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging routes slog to stderr, or to the rotating debug
// file with --debug, and starts any requested profiles. Stdout stays
// reserved for protocol messages.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	if lvl := os.Getenv("ANNWORKER_LOG_LEVEL"); lvl != "" && !debugMode {
		logCfg.Level = lvl
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileOpts.Enabled() {
		profileSession, err = profiling.Start(profileOpts)
		if err != nil {
			return err
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profileSession != nil {
		if err := profileSession.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, werrors.FormatForCLI(err))
	}
	return err
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, werrors.ConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// call runs one request through the dispatcher and decodes a successful
// result into out. A failed response becomes a WorkerError with its code.
func call(ctx context.Context, d *worker.Dispatcher, reqType string, data, out any) error {
	resp, err := d.Call(ctx, reqType, data)
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		var fd protocol.FailureData
		_ = json.Unmarshal(resp.Data, &fd)
		if fd.Code == "" {
			fd.Code = werrors.ErrCodeInternal
		}
		msg := strings.TrimPrefix(resp.Error, "["+fd.Code+"] ")
		return werrors.New(fd.Code, msg, nil)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}
