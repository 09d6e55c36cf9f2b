package broker

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/linefeed/chatbroker/internal/v1/logging"
	"github.com/linefeed/chatbroker/internal/v1/metrics"
	"github.com/linefeed/chatbroker/internal/v1/protocol"
)

// Handler runs the per-connection protocol state machine: one JOIN
// handshake, then a read/broadcast loop until the peer goes away. Every
// failure is terminal for this connection only; nothing propagates to the
// accept loop or to other handlers.
type Handler struct {
	broker *Broker
	client *Client
	conn   io.ReadWriteCloser
	frames *protocol.FrameReader
}

// NewHandler wraps one accepted connection.
func NewHandler(b *Broker, conn io.ReadWriteCloser) *Handler {
	return &Handler{
		broker: b,
		client: NewClient(conn),
		conn:   conn,
		frames: protocol.NewFrameReader(conn),
	}
}

// Run drives the connection to completion.
func (h *Handler) Run(ctx context.Context) {
	metrics.IncConnection()
	defer metrics.DecConnection()

	ctx = logging.WithConn(ctx, h.client.ID())

	join, ok := h.handshake(ctx)
	if !ok {
		return
	}

	ctx = logging.WithSession(ctx, join.Nick, join.Room)

	room, err := h.broker.Join(join.Room, h.client)
	if err != nil {
		logging.Warn(ctx, "Registration failed", zap.Error(err))
		h.failEarly(ctx)
		return
	}

	logging.Info(ctx, "Client joined room")
	// Announced after the add, so the new member sees their own arrival.
	h.broker.Broadcast(room, protocol.JoinAnnouncement(join.Nick))

	h.serve(ctx, room, join.Nick)
}

// handshake reads and validates the mandatory first frame. A peer that
// closes cleanly before sending anything is dropped silently; a malformed,
// truncated, or oversize handshake earns an ERROR line first.
func (h *Handler) handshake(ctx context.Context) (protocol.Join, bool) {
	frame, err := h.frames.ReadFrame()
	if err != nil {
		if errors.Is(err, protocol.ErrFrameTooLong) || errors.Is(err, protocol.ErrTruncatedFrame) {
			logging.Warn(ctx, "Bad handshake frame", zap.Error(err))
			h.failEarly(ctx)
		} else {
			// Clean close or transport failure before the JOIN arrived.
			_ = h.conn.Close()
			metrics.HandshakeFailures.Inc()
		}
		return protocol.Join{}, false
	}

	metrics.FramesTotal.WithLabelValues("join").Inc()

	join, err := protocol.ParseJoin(frame)
	if err != nil {
		logging.Warn(ctx, "Malformed JOIN", zap.Error(err))
		h.failEarly(ctx)
		return protocol.Join{}, false
	}
	return join, true
}

// serve is the ACTIVE state: read frames, broadcast each non-empty line.
func (h *Handler) serve(ctx context.Context, room *Room, nick string) {
	for {
		frame, err := h.frames.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFrameTooLong), errors.Is(err, protocol.ErrTruncatedFrame):
				logging.Warn(ctx, "Terminating connection", zap.Error(err))
				h.writeError(ctx)
			case errors.Is(err, io.EOF):
				// normal departure
			default:
				logging.Warn(ctx, "Read failed", zap.Error(err))
			}
			h.leave(ctx, room, nick)
			return
		}

		if len(frame) == 0 {
			metrics.FramesTotal.WithLabelValues("empty").Inc()
			continue // empty frames are dropped, never broadcast
		}

		metrics.FramesTotal.WithLabelValues("line").Inc()
		h.broker.Broadcast(room, protocol.UserLine(nick, frame))
	}
}

// leave deregisters the client, closes its socket, then announces the
// departure — in that order, so the departing client never sees its own
// farewell.
func (h *Handler) leave(ctx context.Context, room *Room, nick string) {
	if err := h.broker.Leave(room, h.client); err != nil {
		// Should not happen while invariants hold; log and keep serving.
		logging.Error(ctx, "Deregistration failed", zap.Error(err))
	}
	_ = h.client.Close()
	h.broker.Broadcast(room, protocol.LeaveAnnouncement(nick))
	logging.Info(ctx, "Client left room")
}

// failEarly is the FAIL_EARLY state: ERROR line, then close. No membership
// exists yet, so there is nothing to announce.
func (h *Handler) failEarly(ctx context.Context) {
	metrics.HandshakeFailures.Inc()
	h.writeError(ctx)
	_ = h.conn.Close()
}

func (h *Handler) writeError(ctx context.Context) {
	if _, err := h.conn.Write(protocol.ErrorLine); err != nil {
		logging.Warn(ctx, "Failed to write error line", zap.Error(err))
	}
}
