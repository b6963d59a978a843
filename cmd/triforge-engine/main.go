package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"triforge/engine/internal/appdirs"
	"triforge/engine/internal/engine"
	"triforge/engine/internal/envfile"
	"triforge/engine/internal/envutil"
	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/logging"
	"triforge/engine/internal/rpc"
	"triforge/engine/internal/server"
)

var (
	flagAddr  string
	flagStdio bool
	flagDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "triforge-engine",
	Short: "Local engine that broadcasts one prompt to three AI agents",
	Long: `triforge-engine runs the Triforge backend on this machine. It fans a
single prompt out to Claude, Gemini, and ChatGPT through the configured
gateway, streams their replies, and turns proposed file changes into
reviewable diffs against a local workspace.

By default it serves HTTP on --addr. With --stdio it speaks line-delimited
JSON-RPC on stdin/stdout for embedding in a desktop shell.`,
	Version:       engine.EngineVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", envutil.String("TRIFORGE_ADDR", "127.0.0.1:8787"), "HTTP listen address")
	rootCmd.Flags().BoolVar(&flagStdio, "stdio", false, "serve JSON-RPC on stdin/stdout instead of HTTP")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "write debug logs to the data directory")
	rootCmd.SetVersionTemplate("triforge-engine {{.Version}}\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	envResult := envfile.Load()
	debug := flagDebug || envutil.Bool("TRIFORGE_DEBUG")
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	eng, err := engine.New(engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		return fmt.Errorf("engine init failed: %w", err)
	}
	defer eng.Close()

	if flagStdio {
		return runStdio(eng, logger)
	}
	return runHTTP(eng, logger)
}

// runStdio serves until the host closes stdin.
func runStdio(eng *engine.Engine, logger *slog.Logger) error {
	rpcServer := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(rpcServer.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		rpcServer.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)

	register("PromptBroadcast", eng.PromptBroadcast)
	register("PromptPause", eng.PromptPause)
	register("StateGetSnapshot", eng.StateGetSnapshot)
	register("ConversationGetTurns", eng.ConversationGetTurns)

	register("DiffsList", eng.DiffsList)
	register("DiffsPreview", eng.DiffsPreview)
	register("DiffApply", eng.DiffApply)
	register("DiffReject", eng.DiffReject)

	register("WorkspaceReadFile", eng.WorkspaceReadFile)
	register("WorkspaceWriteFile", eng.WorkspaceWriteFile)
	register("WorkspaceDeleteFile", eng.WorkspaceDeleteFile)
	register("WorkspaceListFiles", eng.WorkspaceListFiles)
	register("WorkspaceFileExists", eng.WorkspaceFileExists)
	register("WorkspaceClear", eng.WorkspaceClear)

	register("HistoryList", eng.HistoryList)
	register("SettingsGet", eng.SettingsGet)
	register("SettingsUpdate", eng.SettingsUpdate)

	register("GatewaySetKey", eng.GatewaySetKey)
	register("GatewayClearKey", eng.GatewayClearKey)
	register("GatewayGetStatus", eng.GatewayGetStatus)

	if err := rpcServer.Serve(context.Background()); err != nil {
		logger.Error("rpc.server_error", "error", err.Error())
		return fmt.Errorf("rpc server error: %w", err)
	}
	return nil
}

func runHTTP(eng *engine.Engine, logger *slog.Logger) error {
	srv := server.New(eng, flagAddr, server.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server.start_failed", "error", err.Error())
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("engine.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown_failed", "error", err.Error())
	}
	return <-errCh
}
