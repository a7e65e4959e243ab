package upstream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
	"github.com/GriffinCanCode/realtime-relay/internal/resilience"
	"github.com/GriffinCanCode/realtime-relay/internal/trace"
)

// Handshake headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderBeta          = "OpenAI-Beta"
	BetaRealtimeV1      = "realtime=v1"
)

// connect dials the realtime endpoint, retrying transient failures as
// configured. Every returned error is an AppError.
func (d *Driver) connect(ctx context.Context) (*websocket.Conn, error) {
	log := trace.Logger(ctx)

	retry := d.cfg.Retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("retrying upstream connect", "attempt", attempt, "delay", delay, "error", err)
	}

	var conn *websocket.Conn
	err := resilience.Retry(ctx, retry, func() error {
		c, err := d.dialOnce(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.Wrap(err, apperrors.CodeCancelled, "upstream connect cancelled")
		}
		return nil, err
	}
	return conn, nil
}

func (d *Driver) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	if d.breaker == nil {
		return d.dial(ctx)
	}
	conn, err := resilience.ExecuteWithResult(d.breaker, func() (*websocket.Conn, error) {
		return d.dial(ctx)
	})
	if errors.Is(err, resilience.ErrOpen) {
		d.metrics.Connect(apperrors.CodeCircuitOpen.String())
		return nil, apperrors.Wrap(err, apperrors.CodeCircuitOpen, "upstream unavailable")
	}
	return conn, err
}

func (d *Driver) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := withTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	h := http.Header{}
	h.Set(HeaderAuthorization, "Bearer "+d.cfg.APIKey)
	h.Set(HeaderBeta, BetaRealtimeV1)
	trace.InjectHeaders(ctx, h)

	conn, resp, err := websocket.Dial(dialCtx, d.cfg.URL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		appErr := d.classifyDialError(ctx, dialCtx, err, resp)
		d.metrics.Connect(appErr.Code.String())
		return nil, appErr
	}
	d.metrics.Connect("ok")

	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}
	return conn, nil
}

func (d *Driver) classifyDialError(ctx, dialCtx context.Context, err error, resp *http.Response) *apperrors.AppError {
	if ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "upstream connect cancelled")
	}

	var appErr *apperrors.AppError
	switch {
	case resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		appErr = apperrors.Wrap(err, apperrors.CodeUnauthorized, "upstream rejected credentials")
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		appErr = apperrors.Wrap(err, apperrors.CodeRateLimited, "upstream rate limited")
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		appErr = apperrors.Newf(apperrors.CodeConnect, "connect upstream: timed out after %s", d.cfg.DialTimeout)
	default:
		appErr = apperrors.Wrap(err, apperrors.CodeConnect, "connect upstream")
	}
	if resp != nil {
		appErr.WithMetadata("http_status", strconv.Itoa(resp.StatusCode))
	}
	return appErr
}

// BreakerConfig returns the connect breaker settings. Only retryable connect
// failures count against it. Cancelled dials are ignored.
func BreakerConfig(threshold int, reset time.Duration) resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.Threshold = threshold
	cfg.ResetTimeout = reset
	cfg.Classify = classifyForBreaker
	return cfg
}

func classifyForBreaker(err error) resilience.Outcome {
	switch {
	case err == nil:
		return resilience.CountSuccess
	case apperrors.IsCode(err, apperrors.CodeCancelled):
		return resilience.CountNothing
	case apperrors.IsRetryable(err):
		return resilience.CountFailure
	default:
		return resilience.CountSuccess
	}
}

// withTimeout is context.WithTimeout where d <= 0 means no bound.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
