package wsreactor

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/aviatorsys/wsreactor/pkg/wsconn"
)

const (
	// DefaultListenAddr is used when WithListenAddr is never applied.
	DefaultListenAddr = ":8080"

	defaultBacklog = 128
)

// Config bounds a reactor's listening socket and its per-connection
// engines. The zero Config is not ready to use; build one with
// DefaultConfig and Options, or with LoadConfig.
type Config struct {
	// ListenAddr is the "host:port" the reactor binds its listener to.
	ListenAddr string

	// MaxFrameSize rejects inbound frames whose payload exceeds this many
	// bytes with a close status of 1009. Zero means unlimited.
	MaxFrameSize uint64

	// ReadBufferSize is how many bytes to request per socket read. Zero
	// falls back to wsconn's own default (16 KiB).
	ReadBufferSize int

	// Backlog is the listen(2) backlog for the raw listening socket.
	Backlog int

	// TLS is intentionally absent: terminating WebSocket connections over
	// TLS is out of scope for this reactor; a host that needs TLS terminates it in front of this listener.
}

// Option configures a Config, mirroring the functional-option style used
// elsewhere in this module's ancestry for constructing connections.
type Option func(*Config)

// WithListenAddr sets the "host:port" the reactor binds to.
func WithListenAddr(addr string) Option {
	return func(c *Config) {
		c.ListenAddr = addr
	}
}

// WithMaxFrameSize bounds the largest inbound frame payload a connection
// engine will accept before closing with status 1009.
func WithMaxFrameSize(n uint64) Option {
	return func(c *Config) {
		c.MaxFrameSize = n
	}
}

// WithReadBufferSize sets how many bytes each per-read chunk requests.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		c.ReadBufferSize = n
	}
}

// WithBacklog sets the listen(2) backlog.
func WithBacklog(n int) Option {
	return func(c *Config) {
		c.Backlog = n
	}
}

// DefaultConfig returns a Config with every field set to its default,
// then applies opts on top of it.
func DefaultConfig(opts ...Option) Config {
	c := Config{
		ListenAddr:     DefaultListenAddr,
		ReadBufferSize: 0,
		Backlog:        defaultBacklog,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// tomlConfig mirrors Config's shape for decoding a configuration file;
// kept separate so Config itself carries no struct tags.
type tomlConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	MaxFrameSize   uint64 `toml:"max_frame_size"`
	ReadBufferSize int    `toml:"read_buffer_size"`
	Backlog        int    `toml:"backlog"`
}

// LoadConfig reads a Config from a TOML file, applying DefaultConfig for
// any field the file leaves unset. Missing fields in the file are not an
// error; a missing or malformed file is.
func LoadConfig(path string, opts ...Option) (Config, error) {
	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return Config{}, fmt.Errorf("failed to load wsreactor config from %q: %w", path, err)
	}

	c := DefaultConfig(opts...)
	if tc.ListenAddr != "" {
		c.ListenAddr = tc.ListenAddr
	}
	if tc.MaxFrameSize != 0 {
		c.MaxFrameSize = tc.MaxFrameSize
	}
	if tc.ReadBufferSize != 0 {
		c.ReadBufferSize = tc.ReadBufferSize
	}
	if tc.Backlog != 0 {
		c.Backlog = tc.Backlog
	}

	return c, nil
}

// engineConfig adapts Config to the subset of fields wsconn.Engine cares
// about.
func (c Config) engineConfig() wsconn.Config {
	return wsconn.Config{
		MaxFrameSize:   c.MaxFrameSize,
		ReadBufferSize: c.ReadBufferSize,
	}
}
