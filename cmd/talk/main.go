// talk records a few seconds from the microphone, sends it to a relay server
// and prints the transcript as it streams back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/GriffinCanCode/realtime-relay/internal/audio"
	"github.com/GriffinCanCode/realtime-relay/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "relay WebSocket URL")
	seconds := flag.Float64("seconds", 5, "recording length in seconds")
	rate := flag.Int("rate", 24000, "sample rate in Hz")
	device := flag.String("device", "", "input device name substring (default: system default)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := time.Duration(*seconds * float64(time.Second))
	if err := run(ctx, *url, d, *rate, *device); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, url string, d time.Duration, rate int, device string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := waitReady(ctx, conn); err != nil {
		return err
	}

	rec, err := audio.NewRecorder(rate, device)
	if err != nil {
		return fmt.Errorf("open input device: %w", err)
	}
	defer func() { _ = rec.Close() }()

	fmt.Fprintf(os.Stderr, "recording %s from %s...\n", d, rec.DeviceName())
	samples, err := rec.Record(ctx, d)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, audio.EncodePCM16(samples)); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	fmt.Fprintln(os.Stderr, "sent, waiting for response...")

	transcript, err := receive(ctx, conn)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(transcript)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

func waitReady(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("wait for ready: %w", err)
		}
		if typ, ok := protocol.ClientMessageType(data); ok && typ == protocol.ClientReady {
			return nil
		}
	}
}

// receive prints transcript deltas until response_complete and returns the
// final transcript.
func receive(ctx context.Context, conn *websocket.Conn) (string, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}

		msg := gjson.ParseBytes(data)
		switch msg.Get("type").String() {
		case protocol.TypeTranscriptDelta:
			fmt.Fprint(os.Stderr, msg.Get("delta").String())
		case protocol.ClientResponseComplete:
			return msg.Get("transcript").String(), nil
		case protocol.ClientError:
			return "", errors.New(msg.Get("message").String())
		default:
			slog.Debug("event", "type", msg.Get("type").String())
		}
	}
}
