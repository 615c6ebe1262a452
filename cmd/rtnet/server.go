package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/app"
)

func serverCmd(root *rootFlags) *cobra.Command {
	var (
		address  string
		port     int
		maxSlots int
		tickRate int
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept peers into a fixed pool of slots",
		Long: `Listen for peers on one TCP and UDP port. Each accepted connection is
given the first free slot and an INITIALIZATION frame; when all slots are
taken new connections are closed at once.

With --http the server also accepts WebSocket peers on /ws and serves
/metrics and /slots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			f := cmd.Flags()
			if f.Changed("address") {
				cfg.Server.Address = address
			}
			if f.Changed("port") {
				cfg.Server.Port = port
			}
			if f.Changed("slots") {
				cfg.Server.MaxSlots = maxSlots
			}
			if f.Changed("tick") {
				cfg.Server.TickRate = tickRate
			}
			if f.Changed("http") {
				cfg.Server.HTTPAddr = httpAddr
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}

			return app.RunServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Bind address (default 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP and UDP port (default 5555)")
	cmd.Flags().IntVar(&maxSlots, "slots", 0, "Maximum concurrent peers (default 10)")
	cmd.Flags().IntVar(&tickRate, "tick", 0, "Tick loop rate per second, 0 disables it")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address for /ws, /metrics and /slots")

	return cmd
}
