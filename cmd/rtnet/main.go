// rtnet is a realtime messaging server and client. Peers get a fixed slot,
// exchange typed frames over TCP (or WebSocket) and UDP on one port.
//
// Run "rtnet server" or "rtnet client" with flags, or with no subcommand for
// interactive prompts.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/util"
)

var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	debug      bool
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "rtnet",
		Short:         "Realtime slot-based messaging over TCP and UDP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.debug {
				util.EnableDebug()
			}
			pterm.Info.Printfln("rtnet v%s", version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(serverCmd(&flags), clientCmd(&flags))
	return root
}

// loadConfig reads the config file, if any, and applies --debug.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}
	if cfg.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}
