package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/osbits/uptimer/internal/config"
	"github.com/osbits/uptimer/internal/engine"
	"github.com/osbits/uptimer/internal/observability"
	"github.com/osbits/uptimer/internal/runner"
)

// ExitError asks the process to exit with Code after printing Message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

type globalOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	logFile     string
	concurrency int
	timeout     time.Duration
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	opts    globalOptions
	version string

	logger       *slog.Logger
	closeLog     func() error
	rollbar      bool
	flushRollbar func()
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd(version)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	a.teardown()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "uptimer: %v\n", err)
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// newRootCmd wires the cobra root command.
func newRootCmd(version string) (*cobra.Command, *app) {
	a := &app{version: version}

	defaultConfig := os.Getenv("UPTIMER_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "uptimer.yml"
	}

	root := &cobra.Command{
		Use:   "uptimer",
		Short: "Check that the hosts behind your services are reachable",
		Long: "uptimer runs every configured check against every host of every service,\n" +
			"with bounded concurrency and per-check timeouts, and reports the outcome.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", defaultConfig, "path to configuration file (env UPTIMER_CONFIG)")
	flags.StringVar(&a.opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&a.opts.logFormat, "log-format", "json", "log format: json or text")
	flags.StringVar(&a.opts.logFile, "log-file", "", "also write logs to this file, rotated")
	flags.IntVar(&a.opts.concurrency, "concurrency", 0, "maximum checks in flight (overrides config)")
	flags.DurationVar(&a.opts.timeout, "timeout", 0, "per-check timeout (overrides config)")

	root.AddCommand(newCheckCommand(a))
	root.AddCommand(newWatchCommand(a))
	root.AddCommand(newValidateCommand(a))
	root.AddCommand(newCheckersCommand())
	root.AddCommand(newVersionCommand(version))
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	logger, closeLog, err := observability.NewLogger(observability.LogOptions{
		Level:  a.opts.logLevel,
		Format: a.opts.logFormat,
		File:   a.opts.logFile,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	a.logger = logger
	a.closeLog = closeLog
	a.rollbar, a.flushRollbar = observability.SetupRollbar(logger, a.version)
	return nil
}

func (a *app) teardown() {
	if a.flushRollbar != nil {
		a.flushRollbar()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, nil
}

// engineOptions layers defaults, the config file and explicitly set flags.
func (a *app) engineOptions(cmd *cobra.Command, cfg *config.Config) engine.Options {
	opts := runner.OptionsFromConfig(cfg.Engine, engine.DefaultOptions())
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency = a.opts.concurrency
	}
	if cmd.Flags().Changed("timeout") {
		opts.Timeout = a.opts.timeout
	}
	opts.Logger = a.logger
	if reportPanic := observability.CheckerPanicReporter(a.rollbar); reportPanic != nil {
		opts.OnPanic = func(item engine.WorkItem, rec any) {
			reportPanic(item.Service, item.Check, item.Host, item.Kind, rec)
		}
	}
	return opts
}

func setupError(err error) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf("invalid engine settings: %v", err)}
}
