// Package channel owns the receive path of one stream connection: an
// accumulating residual buffer that turns raw bytes into whole GRNVS
// messages. The control and data channels are independent streams and never
// share a Buffer.
package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/grnvsctl/internal/protocol"
	"github.com/danmuck/grnvsctl/internal/protocol/netstring"
)

const (
	DefaultRecvChunk   = 1024
	DefaultRecvTimeout = 500 * time.Millisecond
)

var (
	ErrNoData      = errors.New("channel: no data received")
	ErrRemoteAbort = errors.New("channel: remote abort")
)

// Transport is the read side of one connection. net.Conn satisfies it.
type Transport interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Config bounds one channel's receive behavior.
type Config struct {
	RecvTimeout time.Duration
	RecvChunk   int
}

func DefaultConfig() Config {
	return Config{
		RecvTimeout: DefaultRecvTimeout,
		RecvChunk:   DefaultRecvChunk,
	}
}

func (c Config) WithDefaults() Config {
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = DefaultRecvTimeout
	}
	if c.RecvChunk <= 0 {
		c.RecvChunk = DefaultRecvChunk
	}
	return c
}

// Buffer decodes frames off one channel. Bytes left over after a decode stay
// in the residual until the next call: frames may arrive batched or split
// across reads, and across logically distinct protocol steps. The residual
// lives as long as the connection and is never reset in between.
type Buffer struct {
	name     string
	conn     Transport
	cfg      Config
	chunk    []byte
	residual []byte
}

func New(name string, conn Transport, cfg Config) *Buffer {
	cfg = cfg.WithDefaults()
	return &Buffer{
		name:  name,
		conn:  conn,
		cfg:   cfg,
		chunk: make([]byte, cfg.RecvChunk),
	}
}

// Next blocks for one receive window and returns the next whole message.
// A complete frame already sitting in the residual is served without
// touching the transport. It fails ErrNoData when the stream went quiet
// with nothing buffered, ErrRemoteAbort when the peer sent an explicit E
// message, and a wrapped netstring error when the buffered bytes do not
// form a valid frame.
func (b *Buffer) Next() ([]byte, error) {
	if len(b.residual) > 0 {
		if msg, rest, err := netstring.Decode(b.residual); err == nil {
			b.residual = rest
			return b.deliver(msg)
		}
	}
	if err := b.fill(); err != nil {
		return nil, fmt.Errorf("%s channel: %w", b.name, err)
	}
	if len(b.residual) == 0 {
		return nil, fmt.Errorf("%w: %s channel", ErrNoData, b.name)
	}
	msg, rest, err := netstring.Decode(b.residual)
	if err != nil {
		return nil, fmt.Errorf("%s channel: %w", b.name, err)
	}
	b.residual = rest
	return b.deliver(msg)
}

// ReadFrame returns the next message as soon as a whole frame is buffered,
// treating the receive window as an inactivity bound between reads rather
// than a drain period. This is the serving side's discipline: peers answer
// frames as they complete, so waiting for the stream to go quiet first
// would stall every exchange by one window.
func (b *Buffer) ReadFrame() ([]byte, error) {
	for {
		if len(b.residual) > 0 {
			msg, rest, err := netstring.Decode(b.residual)
			switch {
			case err == nil:
				b.residual = rest
				return b.deliver(msg)
			case errors.Is(err, netstring.ErrTruncated), errors.Is(err, netstring.ErrMissingColon):
				// frame still arriving
			default:
				return nil, fmt.Errorf("%s channel: %w", b.name, err)
			}
		}
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.RecvTimeout))
		n, err := b.conn.Read(b.chunk)
		if n > 0 {
			b.residual = append(b.residual, b.chunk[:n]...)
			continue
		}
		if err == nil {
			continue
		}
		var ne net.Error
		if !errors.Is(err, io.EOF) && !(errors.As(err, &ne) && ne.Timeout()) {
			return nil, fmt.Errorf("%s channel: %w", b.name, err)
		}
		if len(b.residual) == 0 {
			return nil, fmt.Errorf("%w: %s channel", ErrNoData, b.name)
		}
		// the peer stopped mid-frame; report what is missing
		_, _, derr := netstring.Decode(b.residual)
		return nil, fmt.Errorf("%s channel: %w", b.name, derr)
	}
}

func (b *Buffer) deliver(msg []byte) ([]byte, error) {
	if text, ok := protocol.Abort(msg); ok {
		return nil, fmt.Errorf("%w: %s", ErrRemoteAbort, text)
	}
	return msg, nil
}

// fill reads until the transport goes quiet: end-of-stream, or one receive
// window passing without bytes. Anything received lands in the residual.
func (b *Buffer) fill() error {
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.RecvTimeout))
		n, err := b.conn.Read(b.chunk)
		if n > 0 {
			b.residual = append(b.residual, b.chunk[:n]...)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
}
