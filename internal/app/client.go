package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rtnet/internal/client"
	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

var errServerGone = errors.New("server closed the connection")

func chatEvents(gone chan<- struct{}) client.Events {
	return client.Events{
		OnConnectResult: func(ok bool) {
			if !ok {
				util.LogWarning("connection attempt failed")
			}
		},
		OnDisconnectedFromServer: func() {
			select {
			case gone <- struct{}{}:
			default:
			}
		},
		Callbacks: dispatch.Callbacks[*client.Client]{
			OnString: func(_ *client.Client, from int32, v string) {
				pterm.Printfln("[%d] %s", from, v)
			},
			OnVector3: func(_ *client.Client, from int32, v protocol.Vector3) {
				util.LogDebug("slot %d at (%.2f, %.2f, %.2f)", from, v.X, v.Y, v.Z)
			},
			OnInteger: func(_ *client.Client, target, v int32) {
				util.LogInfo("integer %d for %d", v, target)
			},
		},
	}
}

// command is one parsed input line.
type command struct {
	proto transport.Protocol
	msg   protocol.Message
	quit  bool
}

// parseLine turns an input line into a message. Plain text is chat over the
// stream; "/udp x y z" sends a position datagram; "/ping n" sends a NULL
// signal; "/quit" ends the session.
func parseLine(self int32, line string) (command, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return command{}, errors.New("empty line")
	case line == "/quit":
		return command{quit: true}, nil
	case strings.HasPrefix(line, "/udp "):
		f := strings.Fields(strings.TrimPrefix(line, "/udp "))
		if len(f) != 3 {
			return command{}, errors.New("usage: /udp x y z")
		}
		var xyz [3]float32
		for i, s := range f {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return command{}, err
			}
			xyz[i] = float32(v)
		}
		v := protocol.Vector3{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		return command{proto: transport.UDP, msg: protocol.EncodeVector3(self, v)}, nil
	case strings.HasPrefix(line, "/ping "):
		n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/ping ")), 10, 32)
		if err != nil {
			return command{}, err
		}
		return command{proto: transport.TCP, msg: protocol.EncodeNull(int32(n))}, nil
	default:
		return command{proto: transport.TCP, msg: protocol.EncodeString(self, line)}, nil
	}
}

// RunClient connects to the configured server and sends each line of in
// until in ends, the server goes away or ctx is cancelled.
func RunClient(ctx context.Context, cfg config.Config, in io.Reader) error {
	reporter, release := newReporter(cfg)
	defer release()

	gone := make(chan struct{}, 1)
	stats := &util.Stats{}
	cl, err := client.New(client.Options{
		Config:   cfg.Client,
		Events:   chatEvents(gone),
		Reporter: reporter,
		Stats:    stats,
	})
	if err != nil {
		return err
	}
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	defer cl.Close()

	util.LogSuccess("connected as slot %d, type to chat, /udp x y z, /ping n, /quit", cl.ID())
	util.StartStatsReporter(ctx, stats, statsInterval)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return errServerGone
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseLine(cl.ID(), line)
			if err != nil {
				util.LogWarning("%v", err)
				continue
			}
			if cmd.quit {
				return nil
			}
			if err := cl.Send(cmd.proto, cmd.msg); err != nil {
				util.LogWarning("send failed: %v", err)
			}
		}
	}
}
