package app

import (
	"context"
	"net"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/gateway"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/server"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

// relayEvents logs every lifecycle change and relays chat (STRING over the
// stream) and positions (VECTOR3 over UDP) to the other slots.
func relayEvents(srv **server.Server) server.Events {
	return server.Events{
		OnConnected: func(slot int32, addr net.Addr) {
			util.LogInfo("slot %d connected from %s", slot, addr)
		},
		OnEstablished: func(slot int32) {
			util.LogSuccess("slot %d established", slot)
		},
		OnDisconnected: func(slot int32, addr net.Addr) {
			util.LogInfo("slot %d (%s) left", slot, addr)
		},
		Callbacks: dispatch.Callbacks[int32]{
			OnString: func(slot, target int32, v string) {
				util.LogInfo("[slot %d -> %d] %s", slot, target, v)
				(*srv).SendToAllExcept(slot, transport.TCP, protocol.EncodeString(slot, v))
			},
			OnVector3: func(slot, target int32, v protocol.Vector3) {
				util.LogDebug("[slot %d -> %d] position %+v", slot, target, v)
				(*srv).SendToAllExcept(slot, transport.UDP, protocol.EncodeVector3(slot, v))
			},
			OnNull: func(slot, target int32) {
				util.LogDebug("[slot %d] signal %d", slot, target)
			},
		},
	}
}

// RunServer listens on the configured port, and on http_addr when set, and
// serves until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	reporter, release := newReporter(cfg)
	defer release()

	stats := &util.Stats{}
	var srv *server.Server
	srv, err := server.New(server.Options{
		Config:   cfg.Server,
		Events:   relayEvents(&srv),
		Reporter: reporter,
		Stats:    stats,
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })

	var gw *gateway.Gateway
	if cfg.Server.HTTPAddr != "" {
		gw = gateway.New(srv)
		if err := gw.Listen(cfg.Server.HTTPAddr); err != nil {
			srv.Close()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return gw.Serve(ctx) })
	}

	printServerBanner(srv, gw, cfg.Server)
	util.StartStatsReporter(ctx, stats, statsInterval)

	return g.Wait()
}

func printServerBanner(srv *server.Server, gw *gateway.Gateway, cfg config.ServerConfig) {
	rows := [][]string{
		{"TCP + UDP", srv.Addr().String()},
		{"Slots", pterm.Sprint(cfg.MaxSlots)},
		{"Tick rate", pterm.Sprintf("%d/s", cfg.TickRate)},
	}
	if gw != nil {
		rows = append(rows,
			[]string{"WebSocket", "ws://" + gw.Addr().String() + "/ws"},
			[]string{"Metrics", "http://" + gw.Addr().String() + "/metrics"},
		)
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
	pterm.Println()
}
