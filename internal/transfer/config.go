package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/grnvsctl/internal/protocol/channel"
)

// DefaultPort is the control port GRNVS servers listen on.
const DefaultPort = 1337

var ErrBadConfig = errors.New("transfer: invalid config")

// Config defines the transport policy for one session.
type Config struct {
	// Port is the server's control port.
	Port int
	// ConnectTimeout bounds dialing the control connection.
	ConnectTimeout time.Duration
	// AcceptTimeout bounds waiting for the server's data channel call-back.
	AcceptTimeout time.Duration
	// RecvTimeout is the per-read receive window on both channels.
	RecvTimeout time.Duration
	// WriteTimeout bounds each outbound frame, including error notices.
	WriteTimeout time.Duration
	// RecvChunk is the receive buffer size per read.
	RecvChunk int
}

func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		ConnectTimeout: 5 * time.Second,
		AcceptTimeout:  30 * time.Second,
		RecvTimeout:    channel.DefaultRecvTimeout,
		WriteTimeout:   5 * time.Second,
		RecvChunk:      channel.DefaultRecvChunk,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = d.RecvTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RecvChunk <= 0 {
		c.RecvChunk = d.RecvChunk
	}
	return c
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrBadConfig, c.Port)
	}
	return nil
}

func (c Config) channelConfig() channel.Config {
	return channel.Config{
		RecvTimeout: c.RecvTimeout,
		RecvChunk:   c.RecvChunk,
	}
}
