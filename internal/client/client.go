package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/minitel/internal/observability"
	"github.com/danmuck/minitel/internal/protocol"
	"github.com/danmuck/minitel/internal/protocol/frame"
	"github.com/danmuck/minitel/internal/protocol/session"
	"github.com/danmuck/minitel/internal/record"
	"github.com/rs/zerolog/log"
)

const role = "client"

var (
	ErrAddressRequired  = errors.New("client: address required")
	ErrNotConnected     = errors.New("client: not connected")
	ErrConnectFailed    = errors.New("client: could not connect")
	ErrProtocolRejected = errors.New("client: connected but protocol rejected")
	ErrNoSecret         = errors.New("client: session completed without a secret")
)

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	Address            string
	MaxConnectAttempts int
	Session            session.Config
	Dialer             Dialer
	Sink               record.Sink
}

func DefaultConfig() Config {
	return Config{
		Address:            "localhost:8080",
		MaxConnectAttempts: 3,
		Session:            session.DefaultConfig(),
	}
}

// Client is one MiniTel-Lite connection. Commands are serialized; a failed
// round trip closes the connection and a new Connect is required.
type Client struct {
	cfg  Config
	sink record.Sink
	rng  *rand.Rand

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	seq     *protocol.Sequencer
	machine *protocol.Machine
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = DefaultConfig().MaxConnectAttempts
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	}
	return &Client{
		cfg:  cfg,
		sink: record.OrDiscard(cfg.Sink),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the server, retrying up to MaxConnectAttempts times. After
// failed attempt k it waits the k-th backoff delay; there is no wait after the
// last attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxConnectAttempts; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			observability.RecordConnectAttempt(true)
			log.Info().
				Str("addr", c.cfg.Address).
				Int("attempt", attempt).
				Msg("connected")
			c.conn = conn
			c.reader = bufio.NewReader(conn)
			c.seq = protocol.NewSequencer()
			c.machine = protocol.NewMachine()
			return nil
		}
		lastErr = err
		observability.RecordConnectAttempt(false)
		log.Warn().
			Err(err).
			Str("addr", c.cfg.Address).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxConnectAttempts).
			Msg("connect failed")
		if attempt == c.cfg.MaxConnectAttempts {
			break
		}
		if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
	}
	return fmt.Errorf("%w: %d attempts to %s: %w",
		ErrConnectFailed, c.cfg.MaxConnectAttempts, c.cfg.Address, protocol.Transport("dial", lastErr))
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
	defer cancel()
	return c.cfg.Dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
}

// Connected reports whether a live connection is held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Hello authenticates the connection.
func (c *Client) Hello(ctx context.Context) error {
	_, err := c.roundTrip(ctx, frame.Hello)
	return err
}

// Dump requests the secret. ok is false when the server answered DUMP_FAILED.
func (c *Client) Dump(ctx context.Context) (secret []byte, ok bool, err error) {
	resp, err := c.roundTrip(ctx, frame.Dump)
	if err != nil {
		return nil, false, err
	}
	if resp.Command() != frame.DumpOK {
		return nil, false, nil
	}
	return resp.Payload(), true, nil
}

// Terminate ends the session. The server closes the connection afterwards.
func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.roundTrip(ctx, frame.Terminate)
	return err
}

func (c *Client) roundTrip(ctx context.Context, cmd frame.Command) (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return frame.Frame{}, ErrNotConnected
	}
	resp, err := c.exchangeLocked(ctx, cmd)
	if err != nil {
		observability.RecordProtocolError(role, protocol.KindOf(err).String())
		log.Warn().
			Err(err).
			Str("command", cmd.String()).
			Str("kind", protocol.KindOf(err).String()).
			Msg("round trip failed")
		_ = c.closeLocked()
		return frame.Frame{}, err
	}
	return resp, nil
}

func (c *Client) exchangeLocked(ctx context.Context, cmd frame.Command) (frame.Frame, error) {
	if err := c.machine.Permit(cmd); err != nil {
		return frame.Frame{}, protocol.Classify("send", err)
	}
	req := frame.New(cmd, c.seq.Next(), nil)
	raw, err := req.Encode()
	if err != nil {
		return frame.Frame{}, protocol.Classify("encode", err)
	}

	setWriteDeadline(ctx, c.conn, c.cfg.Session.WriteTimeout)
	if _, err := c.conn.Write(raw); err != nil {
		return frame.Frame{}, protocol.Transport("write", err)
	}
	c.emit(record.DirectionRequest, req, raw)

	setReadDeadline(ctx, c.conn, c.cfg.Session.ReadTimeout)
	respRaw, err := frame.ReadRaw(c.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return frame.Frame{}, protocol.Transport("read", err)
	}
	resp, err := frame.Decode(respRaw)
	if err != nil {
		return frame.Frame{}, protocol.Classify("decode", err)
	}
	c.emit(record.DirectionResponse, resp, respRaw)

	if err := c.seq.Advance(resp.Nonce()); err != nil {
		return frame.Frame{}, protocol.Classify("nonce", err)
	}
	if err := c.machine.Confirm(cmd, resp.Command()); err != nil {
		return frame.Frame{}, protocol.Classify("reply", err)
	}
	log.Debug().
		Str("request", cmd.String()).
		Uint32("nonce", req.Nonce()).
		Str("reply", resp.Command().String()).
		Uint32("reply_nonce", resp.Nonce()).
		Msg("round trip")
	return resp, nil
}

func (c *Client) emit(dir record.Direction, f frame.Frame, raw []byte) {
	observability.RecordFrame(role, string(dir), f.Command().String())
	c.sink.Record(record.NewEvent(dir, f, raw))
}

// setReadDeadline uses the earlier of ctx's deadline and now+timeout.
func setReadDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) {
	_ = conn.SetReadDeadline(deadline(ctx, timeout))
}

func setWriteDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) {
	_ = conn.SetWriteDeadline(deadline(ctx, timeout))
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
