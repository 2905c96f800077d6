package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/minitel/internal/observability"
	"github.com/danmuck/minitel/internal/protocol"
	"github.com/danmuck/minitel/internal/protocol/frame"
	"github.com/danmuck/minitel/internal/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const role = "server"

// connHandler runs the request loop for one accepted connection.
type connHandler struct {
	svc    *Service
	conn   net.Conn
	reader *bufio.Reader
	state  *ConnectionState
	logger zerolog.Logger
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	state := NewConnectionState(conn.RemoteAddr().String(), time.Now())
	s.registry.Add(state, conn)
	if ctx.Err() != nil {
		// CloseAll may already have run; nothing else would close this conn.
		_ = conn.Close()
	}
	observability.ConnectionOpened()
	h := &connHandler{
		svc:    s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		state:  state,
		logger: log.With().
			Str("conn", state.ID.String()).
			Str("remote", state.RemoteAddr).
			Logger(),
	}
	h.logger.Info().Int("active", s.registry.Len()).Msg("client connected")

	err := h.serve(ctx)

	s.registry.Remove(state.ID)
	_ = conn.Close()
	observability.ConnectionClosed()

	switch {
	case state.Evicted():
		h.logger.Info().Msg("idle connection evicted")
	case err == nil:
		h.logger.Info().Str("phase", state.Machine.Phase().String()).Msg("client disconnected")
	case ctx.Err() != nil:
		h.logger.Info().Msg("connection closed on shutdown")
	default:
		kind := protocol.KindOf(err)
		observability.RecordProtocolError(role, kind.String())
		h.logger.Warn().
			Err(err).
			Str("kind", kind.String()).
			Str("phase", state.Machine.Phase().String()).
			Msg("connection dropped")
	}
}

// serve returns nil on peer EOF at a frame boundary or after TERMINATE_OK.
func (h *connHandler) serve(ctx context.Context) error {
	for {
		raw, err := frame.ReadRaw(h.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return protocol.Classify("read", err)
		}
		req, err := frame.Decode(raw)
		if err != nil {
			return protocol.Classify("decode", err)
		}
		h.emit(record.DirectionRequest, req, raw)

		done, err := h.exchange(ctx, req)
		if err != nil || done {
			return err
		}
	}
}

// exchange answers one request and reports whether the session is over.
func (h *connHandler) exchange(ctx context.Context, req frame.Frame) (bool, error) {
	st := h.state
	if err := st.Sequence.Check(req.Nonce()); err != nil {
		return false, protocol.Classify("nonce", err)
	}
	reply, err := st.Machine.Accept(req.Command())
	if err != nil {
		return false, protocol.Classify("dispatch", err)
	}

	var payload []byte
	if reply.WithSecret {
		payload, err = h.svc.cfg.Secret.Secret(ctx)
		if err != nil {
			return false, fmt.Errorf("server: dump: %w", err)
		}
	}
	resp := frame.New(reply.Command, st.Sequence.Reply(), payload)
	raw, err := resp.Encode()
	if err != nil {
		return false, protocol.Classify("encode", err)
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.svc.cfg.Session.WriteTimeout))
	if _, err := h.conn.Write(raw); err != nil {
		return false, protocol.Transport("write", err)
	}
	st.Sequence.Commit()
	st.Touch(time.Now())
	h.emit(record.DirectionResponse, resp, raw)

	h.logger.Debug().
		Str("request", req.Command().String()).
		Uint32("nonce", req.Nonce()).
		Str("reply", resp.Command().String()).
		Int("queries", st.Machine.Queries()).
		Msg("exchange")
	return st.Machine.Phase() == protocol.PhaseTerminated, nil
}

func (h *connHandler) emit(dir record.Direction, f frame.Frame, raw []byte) {
	observability.RecordFrame(role, string(dir), f.Command().String())
	h.svc.sink.Record(record.NewEvent(dir, f, raw))
}
