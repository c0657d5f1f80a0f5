package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/metrics"
)

// Version is set via ldflags at build time.
var Version = "dev"

// rootLogger is the component-scoped logger every subcommand uses;
// it is only valid once initLogging (a cobra.OnInitialize hook) runs.
var rootLogger zerolog.Logger

// cliCtx is cancelled on SIGINT/SIGTERM; every blocking call a
// subcommand makes takes it, so a Ctrl-C during a run aborts in-flight
// requests instead of leaving the process to finish regardless.
var cliCtx context.Context

var flags globalFlags

func main() {
	var cancel context.CancelFunc
	cliCtx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(cliCtx); err != nil {
		fmt.Fprintf(os.Stderr, "dxsync: %v\n", err)
		os.Exit(2)
	}
	os.Exit(runExitCode)
}

// runExitCode is set by a subcommand's RunE via exitWith, then applied
// after cobra returns cleanly — RunE itself returns nil so cobra
// doesn't print a redundant "Error:" line for a partial-success run.
var runExitCode int

func exitWith(code int) { runExitCode = code }

var rootCmd = &cobra.Command{
	Use:     "dxsync",
	Short:   "Bidirectional sync between a local working directory and a digital-experience authoring tenant",
	Version: Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.workdir, "workdir", ".", "local working directory to sync")
	pf.StringVar(&flags.tenant, "tenant", "", "tenant base URL (required)")
	pf.StringVar(&flags.username, "user", "", "authoring service username")
	pf.StringVar(&flags.password, "password", "", "authoring service password")
	pf.Int64Var(&flags.concurrency, "concurrency", 5, "per-kind worker pool size")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("metrics-addr", "", "if set, serve Prometheus metrics on this address while the run executes")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Bool("log-json", false, "emit logs as JSON instead of console format")

	cobra.OnInitialize(initLogging, loadCLIProfile, startMetricsServer)

	rootCmd.AddCommand(pushCmd, pullCmd, listCmd, deleteCmd, statusCmd)
}

func addKindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&flags.asset, "asset", "a", false, "select assets")
	f.BoolVarP(&flags.category, "category", "C", false, "select categories")
	f.BoolVarP(&flags.content, "content", "c", false, "select content")
	f.BoolVarP(&flags.contentType, "content-type", "t", false, "select content types")
	f.BoolVarP(&flags.layout, "layout", "p", false, "select layouts/presentations")
	f.BoolVarP(&flags.publishingSource, "publishing-source", "s", false, "select publishing sources")
	f.BoolVarP(&flags.rendition, "rendition", "r", false, "select renditions")
	f.BoolVar(&flags.allAuthoring, "All-authoring", false, "select every artifact kind")
}

func initLogging() {
	level := "info"
	if l, err := rootCmd.PersistentFlags().GetString("log-level"); err == nil {
		level = l
	}
	if flags.verbose {
		level = "debug"
	}
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	rootLogger = log.WithComponent("cli")
}

// loadCLIProfile applies .dxsync.yml under the selected working
// directory as defaults for any connection/kind flag the invocation
// left unset. CLI flags always take precedence.
func loadCLIProfile() {
	p, err := loadProfile(flags.workdir)
	if err != nil {
		rootLogger.Warn().Err(err).Msg("ignoring unreadable .dxsync.yml")
		return
	}
	applyProfileDefaults(&flags, p)
}

// startMetricsServer exposes /metrics in the background when
// --metrics-addr is set, mirroring the reference binary's always-on
// metrics endpoint but opt-in here since dxsync is a one-shot CLI, not
// a long-running service.
func startMetricsServer() {
	addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			rootLogger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	rootLogger.Info().Str("addr", addr).Msg("serving metrics")
}
