// Package upstream drives one realtime API session per audio submission: dial,
// send the fixed handshake, then relay events to the client until the response is done.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
	"github.com/GriffinCanCode/realtime-relay/internal/metrics"
	"github.com/GriffinCanCode/realtime-relay/internal/protocol"
	"github.com/GriffinCanCode/realtime-relay/internal/resilience"
	"github.com/GriffinCanCode/realtime-relay/internal/trace"
)

// ClientWriter is the client side of a session. Upstream events are passed
// through as the exact text received.
type ClientWriter interface {
	WriteText(ctx context.Context, data []byte) error
}

// Config is the per-process upstream policy. Session is copied into every
// session.update, so one Config can serve any number of concurrent sessions.
type Config struct {
	URL          string
	APIKey       string
	Session      protocol.SessionConfig
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ReadLimit    int64
	Retry        resilience.RetryConfig
}

// Driver runs upstream sessions. It holds no per-session state.
type Driver struct {
	cfg     Config
	breaker *resilience.Breaker
	metrics *metrics.Metrics
}

// Option configures a Driver.
type Option func(*Driver)

// WithBreaker shares b across every session run by the driver.
func WithBreaker(b *resilience.Breaker) Option {
	return func(d *Driver) { d.breaker = b }
}

// WithMetrics records connect outcomes and upstream events in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates a driver.
func New(cfg Config, opts ...Option) *Driver {
	d := &Driver{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one submission: connect, handshake, relay. It returns nil when
// the response completes or the upstream closes first. The upstream socket is
// released on every path.
func (d *Driver) Run(ctx context.Context, client ClientWriter, audio []byte) (err error) {
	ctx, span := trace.StartSpan(ctx, "upstream_session")
	span.SetAttr("audio_bytes", len(audio))
	defer func() {
		if err != nil {
			span.SetAttr("error", apperrors.CodeOf(err).String())
		}
		span.End()
	}()
	log := trace.Logger(ctx)

	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = conn.CloseNow()
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()
	log.Debug("upstream connected", "url", d.cfg.URL)

	s := &session{
		conn:    conn,
		client:  client,
		cfg:     &d.cfg,
		metrics: d.metrics,
		log:     log,
	}
	if err := s.handshake(ctx, audio); err != nil {
		return err
	}
	return s.relay(ctx)
}

// errUpstreamClosed ends the relay loop without a completion message.
var errUpstreamClosed = errors.New("upstream closed")

// session is the state of one Run. transcript never outlives it.
type session struct {
	conn       *websocket.Conn
	client     ClientWriter
	cfg        *Config
	metrics    *metrics.Metrics
	log        *slog.Logger
	transcript Transcript
}

func (s *session) handshake(ctx context.Context, audio []byte) error {
	steps := []struct {
		typ string
		msg any
	}{
		{protocol.TypeSessionUpdate, protocol.BuildSessionUpdate(s.cfg.Session)},
		{protocol.TypeAudioAppend, protocol.BuildAudioAppend(audio)},
		{protocol.TypeAudioCommit, protocol.BuildCommit()},
		{protocol.TypeResponseCreate, protocol.BuildResponseCreate()},
	}
	for _, step := range steps {
		if err := s.send(ctx, step.typ, step.msg); err != nil {
			return err
		}
	}
	s.log.Debug("handshake sent", "audio_bytes", len(audio))
	return nil
}

func (s *session) send(ctx context.Context, typ string, msg any) error {
	wctx, cancel := withTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(wctx, s.conn, msg); err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "upstream session cancelled")
		}
		return apperrors.Wrapf(err, apperrors.CodeSend, "send %s", typ).WithMetadata("event", typ)
	}
	return nil
}

// relay forwards upstream events until response.done, an upstream close, or an error.
func (s *session) relay(ctx context.Context) error {
	for {
		typ, data, err := s.read(ctx)
		if errors.Is(err, errUpstreamClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := protocol.ParseEvent(data)
		if err != nil {
			return err
		}
		if err := s.client.WriteText(ctx, ev.Raw); err != nil {
			return apperrors.Wrap(err, apperrors.CodeClientForward, "forward event to client").
				WithMetadata("event", ev.Type)
		}

		switch {
		case ev.IsTranscriptDelta():
			s.metrics.UpstreamEvent(metrics.EventTranscriptDelta)
			if ev.HasDelta {
				s.transcript.Append(ev.Delta)
			}
		case ev.IsDone():
			s.metrics.UpstreamEvent(metrics.EventResponseDone)
			return s.complete(ctx)
		default:
			s.metrics.UpstreamEvent(metrics.EventOther)
		}
	}
}

func (s *session) read(ctx context.Context) (websocket.MessageType, []byte, error) {
	rctx, cancel := withTimeout(ctx, s.cfg.IdleTimeout)
	defer cancel()

	typ, data, err := s.conn.Read(rctx)
	if err == nil {
		return typ, data, nil
	}

	switch {
	case ctx.Err() != nil:
		return 0, nil, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "upstream session cancelled")
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		return 0, nil, apperrors.Newf(apperrors.CodeTimeout, "no upstream event within %s", s.cfg.IdleTimeout)
	case websocket.CloseStatus(err) != -1:
		s.log.Info("upstream closed before completion", "status", websocket.CloseStatus(err),
			"fragments", s.transcript.Len())
		return 0, nil, errUpstreamClosed
	default:
		return 0, nil, apperrors.Wrap(err, apperrors.CodeUpstreamTransport, "read upstream event")
	}
}

func (s *session) complete(ctx context.Context) error {
	msg, err := json.Marshal(protocol.ResponseComplete(s.transcript.String()))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode completion")
	}
	if err := s.client.WriteText(ctx, msg); err != nil {
		return apperrors.Wrap(err, apperrors.CodeClientForward, "send completion to client")
	}
	s.log.Info("response complete", "fragments", s.transcript.Len())
	return nil
}
