package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/grnvsctl/internal/protocol/channel"
)

var ErrBadConfig = errors.New("server: invalid config")

// Config carries the grnvsd runtime settings.
type Config struct {
	// ListenAddr is the control channel listen address.
	ListenAddr string
	// MetricsAddr exposes /metrics when set. Empty keeps metrics off.
	MetricsAddr string
	// ConnectTimeout bounds the data channel dial back to the client.
	ConnectTimeout time.Duration
	// IOTimeout is the per-window receive timeout and the write deadline
	// on both channels. Clients drain their own receive window to quiet
	// before each command, so this must stay well above one client window.
	IOTimeout time.Duration
	// RecvChunk is the read size per receive attempt.
	RecvChunk int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     "[::1]:1337",
		MetricsAddr:    "",
		ConnectTimeout: 5 * time.Second,
		IOTimeout:      4 * channel.DefaultRecvTimeout,
		RecvChunk:      channel.DefaultRecvChunk,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = def.IOTimeout
	}
	if c.RecvChunk <= 0 {
		c.RecvChunk = def.RecvChunk
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen address required", ErrBadConfig)
	}
	return nil
}

func (c Config) channelConfig() channel.Config {
	return channel.Config{
		RecvTimeout: c.IOTimeout,
		RecvChunk:   c.RecvChunk,
	}
}
