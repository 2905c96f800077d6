package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/minitel/internal/protocol"
	"github.com/danmuck/minitel/internal/protocol/frame"
	"github.com/danmuck/minitel/internal/protocol/session"
	"github.com/danmuck/minitel/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// rewrite may replace the reply a compliant server would send. Returning nil
// closes the connection instead.
type rewrite func(i int, req frame.Frame, proper frame.Frame) *frame.Frame

// scriptedServer answers over one end of a net.Pipe using the real state
// machine and sequence rules.
func scriptedServer(secret string, tweak rewrite) func(net.Conn) {
	return func(conn net.Conn) {
		go func() {
			defer conn.Close()
			m := protocol.NewMachine()
			seq := protocol.NewServerSequence()
			r := bufio.NewReader(conn)
			for i := 0; ; i++ {
				req, err := frame.ReadFrame(r)
				if err != nil {
					return
				}
				if err := seq.Check(req.Nonce()); err != nil {
					return
				}
				reply, err := m.Accept(req.Command())
				if err != nil {
					return
				}
				var payload []byte
				if reply.WithSecret {
					payload = []byte(secret)
				}
				proper := frame.New(reply.Command, seq.Reply(), payload)
				seq.Commit()
				out := &proper
				if tweak != nil {
					out = tweak(i, req, proper)
				}
				if out == nil {
					return
				}
				if err := frame.WriteFrame(conn, *out); err != nil {
					return
				}
			}
		}()
	}
}

type pipeDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	serve    func(net.Conn)
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	local, remote := net.Pipe()
	d.serve(remote)
	return local, nil
}

func (d *pipeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func fastSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: 30 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	}
	return cfg
}

func newClient(t *testing.T, d Dialer, attempts int) *Client {
	t.Helper()
	c, err := New(Config{
		Address:            "minitel.test:8080",
		MaxConnectAttempts: attempts,
		Session:            fastSession(),
		Dialer:             d,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRequiresAddress(t *testing.T) {
	testlog.Start(t)
	_, err := New(Config{Address: "  "})
	require.ErrorIs(t, err, ErrAddressRequired)
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{failures: 2, serve: scriptedServer("FLAG{X}", nil)}
	c := newClient(t, d, 3)

	start := time.Now()
	require.NoError(t, c.Connect(context.Background()))
	elapsed := time.Since(start)

	require.Equal(t, 3, d.Calls())
	require.True(t, c.Connected())
	// 30ms after attempt 1, 60ms after attempt 2.
	require.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestConnectGivesUp(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{failures: 100}
	c := newClient(t, d, 3)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectFailed)
	require.Equal(t, protocol.KindTransport, protocol.KindOf(err))
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, 3, d.Calls())
	require.False(t, c.Connected())
}

func TestConnectStopsWhenContextEnds(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{failures: 100}
	c, err := New(Config{
		Address:            "minitel.test:8080",
		MaxConnectAttempts: 5,
		Session: session.Config{
			Backoff: session.BackoffConfig{InitialDelay: time.Hour, Multiplier: 2},
		},
		Dialer: d,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Connect(ctx)
	require.ErrorIs(t, err, ErrConnectFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, d.Calls())
}

func TestCommandsRequireConnection(t *testing.T) {
	testlog.Start(t)
	c := newClient(t, &pipeDialer{}, 1)
	require.ErrorIs(t, c.Hello(context.Background()), ErrNotConnected)
	_, _, err := c.Dump(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestRoundTripsTrackNonces(t *testing.T) {
	testlog.Start(t)
	var (
		mu     sync.Mutex
		nonces []uint32
	)
	d := &pipeDialer{serve: scriptedServer("FLAG{X}", func(_ int, req, proper frame.Frame) *frame.Frame {
		mu.Lock()
		nonces = append(nonces, req.Nonce(), proper.Nonce())
		mu.Unlock()
		return &proper
	})}
	c := newClient(t, d, 1)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.Hello(ctx))
	secret, ok, err := c.Dump(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, secret)
	secret, ok, err = c.Dump(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "FLAG{X}", string(secret))
	require.NoError(t, c.Terminate(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7}, nonces)
}

func TestDumpBeforeHelloRefusedLocally(t *testing.T) {
	testlog.Start(t)
	var (
		mu   sync.Mutex
		seen int
	)
	d := &pipeDialer{serve: scriptedServer("FLAG{X}", func(_ int, _, proper frame.Frame) *frame.Frame {
		mu.Lock()
		seen++
		mu.Unlock()
		return &proper
	})}
	c := newClient(t, d, 1)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	_, _, err := c.Dump(ctx)
	require.ErrorIs(t, err, protocol.ErrUnauthenticated)
	require.Equal(t, protocol.KindSequence, protocol.KindOf(err))
	require.False(t, c.Connected())
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, seen)
}

func TestMissionOutcomes(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name     string
		failures int
		tweak    rewrite
		want     error
		cause    error
		kind     protocol.Kind
	}{
		{
			name:     "server unreachable",
			failures: 100,
			want:     ErrConnectFailed,
			kind:     protocol.KindTransport,
		},
		{
			name: "reply nonce out of sequence",
			tweak: func(i int, _, proper frame.Frame) *frame.Frame {
				if i == 1 {
					f := frame.New(proper.Command(), proper.Nonce()+2, proper.Payload())
					return &f
				}
				return &proper
			},
			want:  ErrProtocolRejected,
			cause: protocol.ErrNonceMismatch,
			kind:  protocol.KindSequence,
		},
		{
			name: "wrong reply opcode",
			tweak: func(i int, _, proper frame.Frame) *frame.Frame {
				f := frame.New(frame.DumpOK, proper.Nonce(), nil)
				return &f
			},
			want:  ErrProtocolRejected,
			cause: protocol.ErrUnexpectedReply,
			kind:  protocol.KindSequence,
		},
		{
			name: "server drops after hello",
			tweak: func(i int, _, proper frame.Frame) *frame.Frame {
				if i == 0 {
					return &proper
				}
				return nil
			},
			want: ErrProtocolRejected,
			kind: protocol.KindTransport,
		},
		{
			name: "dump never succeeds",
			tweak: func(_ int, req, proper frame.Frame) *frame.Frame {
				if req.Command() == frame.Dump {
					f := frame.New(frame.DumpFailed, proper.Nonce(), nil)
					return &f
				}
				return &proper
			},
			want: ErrNoSecret,
		},
		{
			name: "second dump fails after early success",
			tweak: func(i int, req, proper frame.Frame) *frame.Frame {
				switch {
				case req.Command() == frame.Dump && i == 1:
					f := frame.New(frame.DumpOK, proper.Nonce(), []byte("FLAG{EARLY}"))
					return &f
				case req.Command() == frame.Dump:
					f := frame.New(frame.DumpFailed, proper.Nonce(), nil)
					return &f
				}
				return &proper
			},
			want: ErrNoSecret,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &pipeDialer{failures: tc.failures, serve: scriptedServer("FLAG{X}", tc.tweak)}
			c := newClient(t, d, 1)
			secret, err := c.RunMission(context.Background())
			require.Nil(t, secret)
			require.ErrorIs(t, err, tc.want)
			for _, other := range []error{ErrConnectFailed, ErrProtocolRejected, ErrNoSecret} {
				if other != tc.want {
					require.NotErrorIs(t, err, other)
				}
			}
			if tc.cause != nil {
				require.ErrorIs(t, err, tc.cause)
			}
			if tc.kind != protocol.KindNone {
				require.Equal(t, tc.kind, protocol.KindOf(err))
			}
			require.False(t, c.Connected())
		})
	}
}

func TestMissionReturnsSecret(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{serve: scriptedServer("FLAG{PIPE}", nil)}
	c := newClient(t, d, 1)
	secret, err := c.RunMission(context.Background())
	require.NoError(t, err)
	require.Equal(t, "FLAG{PIPE}", string(secret))
	require.False(t, c.Connected())
}
