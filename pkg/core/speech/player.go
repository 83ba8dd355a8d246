package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
)

// ErrBusy is returned by Play while audio is loading or playing.
var ErrBusy = errors.New("speech: playback already in progress")

// Sink plays PCM and blocks until playback finishes or ctx is canceled.
type Sink interface {
	Play(ctx context.Context, pcm []byte, f audio.Format) error
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// Player plays one utterance on demand and keeps its decoded buffer so a
// replay does not fetch again. Changing the text drops the buffer.
type Player struct {
	synth Synthesizer
	sink  Sink

	mu     sync.Mutex
	text   string
	buf    []byte
	state  State
	cancel context.CancelFunc
	gen    uint64
}

func NewPlayer(synth Synthesizer, sink Sink) *Player {
	return &Player{synth: synth, sink: sink}
}

// SetText stops playback and invalidates the buffer when text changes.
func (p *Player) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.text {
		return
	}
	p.stopLocked()
	p.text = text
	p.buf = nil
}

// Play fetches (if needed) and plays the current text.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrBusy
	}
	text := p.text
	if strings.TrimSpace(text) == "" {
		p.mu.Unlock()
		return core.NewInvalidRequestErrorWithParam("nothing to read aloud", "text")
	}
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	gen := p.gen
	buf := p.buf

	if buf == nil {
		p.state = StateLoading
		p.mu.Unlock()

		pcm, err := p.synth.Synthesize(playCtx, text)
		if err == nil && len(pcm) == 0 {
			err = ErrNoAudio
		}

		p.mu.Lock()
		if err == nil && p.text == text {
			p.buf = pcm
		}
		if gen != p.gen {
			p.mu.Unlock()
			return nil
		}
		if err != nil {
			p.state = StateIdle
			p.cancel = nil
			p.mu.Unlock()
			return err
		}
		buf = pcm
	}
	p.state = StatePlaying
	p.mu.Unlock()

	err := p.sink.Play(playCtx, buf, audio.OutputFormat)

	p.mu.Lock()
	if gen == p.gen {
		p.state = StateIdle
		p.cancel = nil
	}
	p.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Pause stops the current source. Safe to call at any time.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = StateIdle
	p.gen++
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cached reports whether the current text has a decoded buffer.
func (p *Player) Cached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf != nil
}
