package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scriptbox/internal/library"
	"scriptbox/internal/manager"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox manager as a long-lived daemon",
		Long: `Run the sandbox manager as a long-lived daemon.

The daemon keeps the VM warm set ready, sweeps expired instances on the
configured interval and hot-reloads the script template library. It stops
cleanly on SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	log := cliCtx.Logger

	db, err := cliCtx.GetStorage()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	mgr := manager.New(cliCtx.Config, db, *log)
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	defer mgr.Stop()

	var lib *library.Library
	if cliCtx.Config.Library.Enabled {
		lib, err = library.New(cliCtx.Config.Library, Version, *log)
		if err != nil {
			return fmt.Errorf("create template library: %w", err)
		}
		if err := lib.Load(); err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		if err := lib.Watch(); err != nil {
			return fmt.Errorf("watch templates: %w", err)
		}
		defer lib.Close()
	}

	log.Info().Msg("scriptboxd running, press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig

	log.Info().Str("signal", s.String()).Msg("shutting down")
	return nil
}
