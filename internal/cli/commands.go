package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/engine"
	"github.com/osbits/uptimer/internal/notifier"
	"github.com/osbits/uptimer/internal/render"
	"github.com/osbits/uptimer/internal/report"
	"github.com/osbits/uptimer/internal/runner"
)

func newCheckCommand(a *app) *cobra.Command {
	var (
		format        string
		failOnFailure bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run every check once and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts := a.engineOptions(cmd, cfg)
			if err := opts.Validate(); err != nil {
				return setupError(err)
			}
			rep, runErr := runner.Execute(cmd.Context(), &cfg.Realm, opts)
			if rep == nil {
				return runErr
			}
			if err := report.Write(cmd.OutOrStdout(), rep, f); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if runErr != nil {
				return &ExitError{Code: 130, Message: fmt.Sprintf("run interrupted: %v", runErr)}
			}
			if failOnFailure && !rep.Healthy() {
				return &ExitError{Code: 1, Message: fmt.Sprintf("%d of %d checks failing", rep.Summary.Failure, rep.Summary.Total)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or prom")
	cmd.Flags().BoolVar(&failOnFailure, "fail-on-failure", false, "exit with status 1 when any check fails")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run checks on a schedule and send notifications on changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts := a.engineOptions(cmd, cfg)
			eng, err := engine.New(opts)
			if err != nil {
				return setupError(err)
			}
			secrets, err := cfg.ResolveSecrets()
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("resolve secrets: %v", err)}
			}
			registry, err := notifier.Build(notifier.Factory{Secrets: secrets, Render: render.New()}, cfg.Notifiers)
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("build notifiers: %v", err)}
			}
			if schedule == "" {
				schedule = cfg.Schedule
			}
			a.logger.Info("starting watch",
				"services", len(cfg.Services),
				"work_items", cfg.WorkItems(),
				"notifiers", registry.Len(),
				"concurrency", opts.Concurrency,
				"timeout", opts.Timeout)

			run := runner.New(&cfg.Realm, eng, registry, a.logger)
			if err := run.Watch(cmd.Context(), schedule); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression or @every interval (default from config, else "+runner.DefaultSchedule+")")
	return cmd
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without running any check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.engineOptions(cmd, cfg).Validate(); err != nil {
				return setupError(err)
			}
			secrets, err := cfg.ResolveSecrets()
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("resolve secrets: %v", err)}
			}
			if _, err := notifier.Build(notifier.Factory{Secrets: secrets}, cfg.Notifiers); err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("build notifiers: %v", err)}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d services, %d work items, %d notifiers)\n",
				a.opts.configPath, len(cfg.Services), cfg.WorkItems(), len(cfg.Notifiers))
			for _, amb := range report.Ambiguities(&cfg.Realm) {
				fmt.Fprintf(out, "warning: %s\n", amb)
			}
			return nil
		},
	}
}

func newCheckersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkers",
		Short: "List the available checker tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, tag := range checks.Default().Tags() {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "uptimer %s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}
