// Package config holds the server and client settings and loads them from a
// TOML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Role represents which side of the connection this process plays.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Client stream transports.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// Config is the full file layout: one table per role plus shared settings.
type Config struct {
	Debug    bool         `toml:"debug"`
	ErrorLog string       `toml:"error_log"` // rotating JSON fault log; empty disables it
	Server   ServerConfig `toml:"server"`
	Client   ClientConfig `toml:"client"`
}

type ServerConfig struct {
	Address    string  `toml:"address"`
	Port       int     `toml:"port"` // shared by the TCP listener and the UDP socket; 0 picks a free port
	MaxSlots   int     `toml:"max_slots"`
	BufferSize int     `toml:"buffer_size"` // read buffer per connection
	MaxFrame   int     `toml:"max_frame"`
	OutboxSize int     `toml:"outbox_size"` // queued frames per connection before it is dropped
	TickRate   int     `toml:"tick_rate"`   // updates per second; 0 disables the tick loop
	UDPRate    float64 `toml:"udp_rate"`    // datagrams per second per slot; 0 is unlimited
	UDPBurst   int     `toml:"udp_burst"`
	HTTPAddr   string  `toml:"http_addr"` // serves /ws, /metrics and /slots; empty disables it
}

type ClientConfig struct {
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	Transport      string        `toml:"transport"`
	WSURL          string        `toml:"ws_url"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	BufferSize     int           `toml:"buffer_size"`
	MaxFrame       int           `toml:"max_frame"`
	OutboxSize     int           `toml:"outbox_size"`
	ProbeCount     int           `toml:"probe_count"`
	ProbeInterval  time.Duration `toml:"probe_interval"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Server: DefaultServer(),
		Client: DefaultClient(),
	}
}

func DefaultServer() ServerConfig {
	return ServerConfig{
		Address:    "127.0.0.1",
		Port:       5555,
		MaxSlots:   10,
		BufferSize: 4096,
		MaxFrame:   1 << 20,
		OutboxSize: 256,
		TickRate:   30,
		UDPBurst:   32,
	}
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		Host:           "127.0.0.1",
		Port:           5555,
		Transport:      TransportTCP,
		ConnectTimeout: 5 * time.Second,
		BufferSize:     4096,
		MaxFrame:       1 << 20,
		OutboxSize:     256,
		ProbeCount:     3,
		ProbeInterval:  50 * time.Millisecond,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return cfg, nil
}

// ListenAddr is the host:port both server sockets bind to.
func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// ServerAddr is the host:port the client dials over TCP and sends UDP to.
func (c ClientConfig) ServerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func (c ServerConfig) Validate() error {
	var errs []error
	if net.ParseIP(strings.TrimSpace(c.Address)) == nil && c.Address != "" {
		errs = append(errs, fmt.Errorf("server address %q is not an IP", c.Address))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range 0~65535", c.Port))
	}
	if c.MaxSlots < 1 {
		errs = append(errs, fmt.Errorf("server max_slots must be positive"))
	}
	if c.BufferSize < 1 || c.MaxFrame < 1 || c.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("server buffer_size, max_frame and outbox_size must be positive"))
	}
	if c.TickRate < 0 || c.UDPRate < 0 || c.UDPBurst < 0 {
		errs = append(errs, fmt.Errorf("server tick_rate, udp_rate and udp_burst must not be negative"))
	}
	if c.UDPRate > 0 && c.UDPBurst < 1 {
		errs = append(errs, fmt.Errorf("server udp_burst must be at least 1 when udp_rate is set"))
	}
	return errors.Join(errs...)
}

func (c ClientConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, fmt.Errorf("client host is required"))
	}
	if !validPort(c.Port) {
		errs = append(errs, fmt.Errorf("client port %d out of range 1~65535", c.Port))
	}
	switch c.Transport {
	case TransportTCP:
	case TransportWS:
		if _, err := NormalizeWSURL(c.WSURL); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("client transport %q must be %q or %q", c.Transport, TransportTCP, TransportWS))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client connect_timeout must be positive"))
	}
	if c.BufferSize < 1 || c.MaxFrame < 1 || c.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("client buffer_size, max_frame and outbox_size must be positive"))
	}
	if c.ProbeCount < 1 || c.ProbeInterval < 0 {
		errs = append(errs, fmt.Errorf("client probe_count must be positive and probe_interval not negative"))
	}
	return errors.Join(errs...)
}

// NormalizeWSURL validates a raw WebSocket URL and points it at /ws.
// A missing scheme defaults to ws.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %q", raw)
	}
	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
