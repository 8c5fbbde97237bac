package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/xDarkicex/duplex"
)

// Mode selects how accepted connections reach the remote address.
type Mode string

const (
	// ModeProxy relays each accepted TCP connection to its own remote
	// connection.
	ModeProxy Mode = "proxy"
	// ModeMuxClient opens a stream on a shared yamux client session to the
	// remote for each accepted connection.
	ModeMuxClient Mode = "mux-client"
	// ModeMuxServer treats each accepted connection as a yamux server
	// session and relays every stream to its own remote connection.
	ModeMuxServer Mode = "mux-server"
)

const (
	DefaultDialTimeout = 30 * time.Second
	DefaultKeepAlive   = 15 * time.Second
)

// Config configures a relay Server.
type Config struct {
	Mode       Mode
	ListenAddr string
	RemoteAddr string

	// BufferSize is the ring capacity of each direction of each relay.
	BufferSize int

	DialTimeout time.Duration

	// KeepAlive is the yamux keep-alive interval in the mux modes.
	KeepAlive time.Duration
}

// DefaultConfig returns a proxy-mode configuration with default sizes and
// timeouts and no addresses.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeProxy,
		BufferSize:  duplex.DefaultBufferSize,
		DialTimeout: DefaultDialTimeout,
		KeepAlive:   DefaultKeepAlive,
	}
}

var errNoRemote = errors.New("relay: remote address is required")

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProxy, ModeMuxClient, ModeMuxServer:
	default:
		return fmt.Errorf("relay: unknown mode %q", c.Mode)
	}
	if c.RemoteAddr == "" {
		return errNoRemote
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("relay: buffer size must be positive, got %d", c.BufferSize)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("relay: dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.Mode != ModeProxy && c.KeepAlive <= 0 {
		return fmt.Errorf("relay: keep-alive must be positive in %s mode, got %s", c.Mode, c.KeepAlive)
	}
	return nil
}
