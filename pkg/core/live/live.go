// Package live runs one real-time voice conversation with the model.
//
// A Conversation moves through Idle → Connecting → Active → (Error | Closed) → Idle.
// Microphone frames are pumped to a Stream; inbound events feed a Transcript and
// a gapless playback Scheduler. Any transport error is terminal for the session:
// there is no retry or reconnect.
//
// All collaborators are interfaces so the same orchestration runs in the terminal
// client (ffmpeg microphone, ffplay sink) and in the gateway (websocket frames in
// and out).
package live

import (
	"context"
	"errors"

	"github.com/vango-go/scholar-lite/pkg/core/audio"
)

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice = "Zephyr"
)

var (
	// ErrAlreadyActive is returned by Start while a session is connecting or active.
	ErrAlreadyActive = errors.New("live: a conversation is already active")
	// ErrStopped is returned by Start when Stop wins the race against connect.
	ErrStopped = errors.New("live: conversation stopped while connecting")
)

// Config is passed to the Connector for each session.
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
	InputFormat       audio.Format
	OutputFormat      audio.Format
}

func DefaultConfig() Config {
	return Config{
		Model:        DefaultModel,
		Voice:        DefaultVoice,
		InputFormat:  audio.InputFormat,
		OutputFormat: audio.OutputFormat,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.InputFormat.SampleRateHz == 0 {
		c.InputFormat = d.InputFormat
	}
	if c.OutputFormat.SampleRateHz == 0 {
		c.OutputFormat = d.OutputFormat
	}
	return c
}

// Event is one inbound message from the provider stream. Any combination of
// fields may be set.
type Event struct {
	InputText    string
	OutputText   string
	Audio        []byte
	TurnComplete bool
	Interrupted  bool
}

// Stream is an open provider session. Recv returns io.EOF when the remote
// side closes cleanly.
type Stream interface {
	Send(ctx context.Context, pcm []byte) error
	Recv(ctx context.Context) (Event, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, cfg Config) (Stream, error)
}

// Capture delivers fixed-size PCM frames until closed.
type Capture interface {
	Frames() <-chan []byte
	Close() error
}

type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Sink receives scheduled chunks. StopAll halts every source still queued or
// playing and must be safe to call repeatedly.
type Sink interface {
	Schedule(chunk Scheduled) error
	StopAll()
}
