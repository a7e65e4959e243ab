// Package audio records microphone input as mono PCM16 for the relay's CLI client.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
)

// FramesPerBuffer is the portaudio read size, 1024 frames (~43ms at 24kHz).
const FramesPerBuffer = 1024

// ErrNoDevice is returned when no input device matches.
var ErrNoDevice = errors.New("no matching input device")

// Recorder captures from one input device.
type Recorder struct {
	sampleRate int
	device     *portaudio.DeviceInfo
}

// NewRecorder initializes portaudio and picks the input device. An empty
// match uses the system default input; otherwise the first input device whose
// name contains match (case-insensitive) is used. Call Close when done.
func NewRecorder(sampleRate int, match string) (*Recorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	dev, err := findDevice(match)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return &Recorder{sampleRate: sampleRate, device: dev}, nil
}

func findDevice(match string) (*portaudio.DeviceInfo, error) {
	if match == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	return selectDevice(devices, match)
}

// selectDevice returns the first input-capable device whose name contains match.
func selectDevice(devices []*portaudio.DeviceInfo, match string) (*portaudio.DeviceInfo, error) {
	match = strings.ToLower(match)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), match) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, match)
}

// DeviceName returns the name of the selected input device.
func (r *Recorder) DeviceName() string { return r.device.Name }

// Record captures d of audio. Cancelling ctx stops early and returns what was
// captured so far along with ctx.Err().
func (r *Recorder) Record(ctx context.Context, d time.Duration) ([]int16, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   r.device,
			Channels: 1,
			Latency:  r.device.DefaultLowInputLatency,
		},
		SampleRate:      float64(r.sampleRate),
		FramesPerBuffer: FramesPerBuffer,
	}

	buf := make([]int16, FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer func() { _ = stream.Stop() }()

	want := samplesFor(r.sampleRate, d)
	out := make([]int16, 0, want)
	slog.Debug("recording", "device", r.device.Name, "rate", r.sampleRate, "samples", want)

	for len(out) < want {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := stream.Read(); err != nil {
			// Overflow only means samples were dropped by the host.
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("input overflowed", "device", r.device.Name)
				continue
			}
			return out, err
		}
		n := min(len(buf), want-len(out))
		out = append(out, buf[:n]...)
	}
	return out, nil
}

// Close releases portaudio.
func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

func samplesFor(rate int, d time.Duration) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// EncodePCM16 lays samples out as little-endian 16-bit PCM, the realtime
// API's pcm16 input format.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
