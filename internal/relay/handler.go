// Package relay owns one client connection: readiness, keepalive, and handing
// each audio frame to an upstream session while watching for the client to leave.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
	"github.com/GriffinCanCode/realtime-relay/internal/metrics"
	"github.com/GriffinCanCode/realtime-relay/internal/protocol"
	"github.com/GriffinCanCode/realtime-relay/internal/trace"
	"github.com/GriffinCanCode/realtime-relay/internal/upstream"
)

// maxBacklog bounds the client frames held while a session is in flight.
// Frames beyond it are dropped.
const maxBacklog = 8

// Runner executes one upstream session for an audio submission.
type Runner interface {
	Run(ctx context.Context, client upstream.ClientWriter, audio []byte) error
}

// Handler serves client connections. It is safe for concurrent use; all
// per-connection state lives in Serve.
type Handler struct {
	runner       Runner
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records submissions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithWriteTimeout bounds each write to the client socket.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// NewHandler creates a handler that delegates audio to runner.
func NewHandler(runner Runner, opts ...Option) *Handler {
	h := &Handler{runner: runner, writeTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type frame struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Serve runs the connection until the client closes, a transport error
// occurs, or ctx is cancelled. The caller owns conn and closes it afterwards.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, _ = trace.EnsureContext(ctx)
	ctx = trace.WithLogAttrs(ctx, "conn_id", uuid.NewString())
	log := trace.Logger(ctx)
	client := &clientConn{conn: conn, timeout: h.writeTimeout}

	if err := client.send(ctx, protocol.Ready()); err != nil {
		log.Warn("failed to send ready", "error", err)
		return
	}
	log.Info("client connected")

	frames := make(chan frame)
	go readFrames(ctx, conn, frames)

	var backlog []frame
	for {
		var f frame
		if len(backlog) > 0 {
			f, backlog = backlog[0], backlog[1:]
		} else {
			select {
			case f = <-frames:
			case <-ctx.Done():
				return
			}
		}

		if f.err != nil {
			logClientExit(log, f.err)
			return
		}

		switch f.typ {
		case websocket.MessageBinary:
			var alive bool
			backlog, alive = h.submit(ctx, log, client, f.data, frames, backlog)
			if !alive {
				return
			}
		case websocket.MessageText:
			if protocol.IsPing(f.data) {
				if err := client.send(ctx, protocol.Pong()); err != nil {
					log.Debug("failed to send pong", "error", err)
				}
			}
		}
	}
}

// submit runs one audio submission. The upstream session runs on its own
// goroutine so that a client disconnect can cancel it. Other frames that
// arrive meanwhile are queued up to maxBacklog and dropped past that, so the
// reader keeps draining and a disconnect is always seen. It reports false
// once the client is gone.
func (h *Handler) submit(ctx context.Context, log *slog.Logger, client *clientConn, audio []byte,
	frames <-chan frame, backlog []frame) ([]frame, bool) {
	log.Info("received audio", "bytes", len(audio))
	if len(audio) == 0 {
		h.metrics.Submission(apperrors.CodeEmptyAudio.String(), 0)
		if err := client.send(ctx, protocol.Error(protocol.MsgEmptyAudio)); err != nil {
			log.Debug("failed to report empty audio", "error", err)
		}
		return backlog, true
	}

	start := time.Now()
	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	done := make(chan error, 1)
	go func() { done <- h.runner.Run(sessionCtx, client, audio) }()

	for {
		select {
		case err := <-done:
			h.finish(ctx, log, client, err, time.Since(start))
			return backlog, true
		case f := <-frames:
			if f.err == nil {
				if len(backlog) >= maxBacklog {
					log.Warn("dropping client frame, backlog full", "bytes", len(f.data))
					continue
				}
				backlog = append(backlog, f)
				continue
			}
			logClientExit(log, f.err)
			cancelSession()
			err := <-done
			h.metrics.Submission(resultLabel(err), time.Since(start))
			log.Info("upstream session cancelled by client disconnect", "error", err)
			return backlog, false
		case <-ctx.Done():
			cancelSession()
			<-done
			return backlog, false
		}
	}
}

func (h *Handler) finish(ctx context.Context, log *slog.Logger, client *clientConn, err error, elapsed time.Duration) {
	h.metrics.Submission(resultLabel(err), elapsed)
	if err == nil {
		log.Info("submission complete", "elapsed", elapsed)
		return
	}

	if appErr, ok := apperrors.As(err); ok {
		log.Error("upstream session failed", "error", appErr)
	} else {
		log.Error("upstream session failed", "error", err)
	}
	if sendErr := client.send(ctx, protocol.Error(err.Error())); sendErr != nil {
		log.Debug("failed to report session error", "error", sendErr)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperrors.CodeOf(err).String()
}

// readFrames pumps client frames into out until a read fails. The failing
// frame is delivered too, so the consumer sees why the connection ended.
// It exits once conn is closed.
func readFrames(ctx context.Context, conn *websocket.Conn, out chan<- frame) {
	// A cancelled read fails the whole connection; the owner closes conn instead.
	rctx := context.WithoutCancel(ctx)
	for {
		typ, data, err := conn.Read(rctx)
		select {
		case out <- frame{typ: typ, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func logClientExit(log *slog.Logger, err error) {
	if status := websocket.CloseStatus(err); status != -1 {
		log.Info("client disconnected", "status", status)
		return
	}
	log.Warn("client connection error", "error", err)
}

// clientConn writes to the client socket with a per-write timeout.
type clientConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// WriteText implements upstream.ClientWriter.
func (c *clientConn) WriteText(ctx context.Context, data []byte) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *clientConn) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.WriteText(ctx, data)
}
