package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rtnet/internal/app"
	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/util"
)

// runInteractive asks for the role and the few settings that matter when no
// subcommand is given.
func runInteractive(ctx context.Context, cfg config.Config) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server - Host a session", "Client - Join a session"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Server.Port = askPort("Port to listen on", cfg.Server.Port)
		return app.RunServer(ctx, cfg)
	}

	cfg.Client.Host = askText("Server host", cfg.Client.Host)
	cfg.Client.Port = askPort("Server port", cfg.Client.Port)
	return app.RunClient(ctx, cfg, os.Stdin)
}

// askPort prompts for a port number until a valid one is entered. An empty
// answer keeps def.
func askPort(prompt string, def int) int {
	for {
		raw := askText(prompt, strconv.Itoa(def))

		port, err := strconv.Atoi(raw)
		if err == nil && port >= 1 && port <= 65535 {
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

func askText(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt + " (" + def + ")").
		Show()
	pterm.Println()

	if raw = strings.TrimSpace(raw); raw == "" {
		return def
	}
	return raw
}
