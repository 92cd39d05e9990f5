package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corymhall/proofsync/config"
	pdebug "github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/logger"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "proofsync",
	Short:         "Keep a Lean proof editor in sync with the Lean analysis server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	logLevel   string
	logFile    string
)

func main() {
	defer panicHandler()
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "path to proofsync.toml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.AddCommand(serveCmd, watchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger on ctx. Flags win
// over the file.
func setup(cmd *cobra.Command) (context.Context, config.Config, io.Closer, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx, configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return nil, config.Config{}, nil, err
	}
	l, closer, err := logger.New(cfg.LogFile, os.Stderr)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	return pdebug.WithLogger(ctx, l), cfg, closer, nil
}

func panicHandler() {
	if panicPayload := recover(); panicPayload != nil {
		stack := string(debug.Stack())
		fmt.Fprintln(os.Stderr, "================================================================================")
		fmt.Fprintln(os.Stderr, "proofsync encountered a fatal error. This is a bug!")
		fmt.Fprintln(os.Stderr, "We would appreciate a report: https://github.com/corymhall/proofsync/issues/")
		fmt.Fprintln(os.Stderr, "Please provide all of the below text in your report.")
		fmt.Fprintln(os.Stderr, "================================================================================")
		fmt.Fprintf(os.Stderr, "proofsync Version:    %s\n", version)
		fmt.Fprintf(os.Stderr, "Go Version:           %s\n", runtime.Version())
		fmt.Fprintf(os.Stderr, "Go Compiler:          %s\n", runtime.Compiler)
		fmt.Fprintf(os.Stderr, "Architecture:         %s\n", runtime.GOARCH)
		fmt.Fprintf(os.Stderr, "Operating System:     %s\n", runtime.GOOS)
		fmt.Fprintf(os.Stderr, "Panic:                %s\n\n", panicPayload)
		fmt.Fprintln(os.Stderr, stack)
		os.Exit(1)
	}
}
