package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/1ureka/rtnet/internal/app"
	"github.com/1ureka/rtnet/internal/config"
)

func clientCmd(root *rootFlags) *cobra.Command {
	var (
		host  string
		port  int
		wsURL string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and chat from stdin",
		Long: `Connect to a server, complete the handshake and send each input line
as a STRING frame. "/udp x y z" sends a position datagram, "/ping n" a NULL
signal and "/quit" disconnects.

With --ws the stream goes over a WebSocket to the server's /ws endpoint;
UDP still goes to --host and --port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			f := cmd.Flags()
			if f.Changed("host") {
				cfg.Client.Host = host
			}
			if f.Changed("port") {
				cfg.Client.Port = port
			}
			if f.Changed("ws") {
				cfg.Client.Transport = config.TransportWS
				cfg.Client.WSURL = wsURL
			}
			if err := cfg.Client.Validate(); err != nil {
				return err
			}

			return app.RunClient(cmd.Context(), cfg, os.Stdin)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server TCP and UDP port (default 5555)")
	cmd.Flags().StringVar(&wsURL, "ws", "", "WebSocket URL of the server gateway")

	return cmd
}
