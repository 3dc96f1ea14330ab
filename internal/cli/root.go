// Package cli implements the scriptboxd command tree.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"scriptbox/internal/config"
	"scriptbox/pkg/logger"
)

// GlobalFlags holds flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

type contextKey struct{}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scriptboxd",
		Short: "Scriptbox - sandboxed script execution engine",
		Long: `Scriptbox runs untrusted JavaScript in isolated, policy-bound sandbox
instances: static validation, capped resources, a restricted capability
surface and full execution observability.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}

			// "auto" picks the console writer on a terminal, JSON otherwise.
			format := cfg.Log.Format
			if format == "" || format == "auto" {
				format = "json"
				if term.IsTerminal(int(os.Stderr.Fd())) {
					format = "console"
				}
			}

			if err := logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: format,
				File:   cfg.Log.File,
			}); err != nil {
				return err
			}

			storagePath := cfg.Storage.Path
			if storagePath == "" {
				storagePath, err = config.DefaultDataPath()
				if err != nil {
					return err
				}
			}

			cliCtx := NewCLIContext(cfg, configPath, logger.Get(), storagePath)
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewExecCmd())
	rootCmd.AddCommand(NewValidateCmd())
	rootCmd.AddCommand(NewTemplateCmd())
	rootCmd.AddCommand(NewAuditCmd())

	return rootCmd
}

// GetCLIContext extracts the CLI context from a command.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	if cmd.Context() == nil {
		return nil
	}
	ctx, _ := cmd.Context().Value(contextKey{}).(*CLIContext)
	return ctx
}
