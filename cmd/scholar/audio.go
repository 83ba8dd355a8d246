package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
)

const (
	micFrameDuration = 100 * time.Millisecond
	// A capture whose opening window never peaks above this is treated as a
	// muted or wrong input device.
	micSilenceWindow    = 3 * time.Second
	micSilenceThreshold = 0.01
)

// ffmpegMicrophone captures 16 kHz mono PCM through ffmpeg.
type ffmpegMicrophone struct {
	path   string
	device string
	// onSilent runs once per capture when the opening window is silent.
	onSilent func()
}

func (m ffmpegMicrophone) Open(ctx context.Context) (live.Capture, error) {
	path := m.path
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, errors.New("ffmpeg is required for live mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS, m.device, audio.InputFormat)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	c := newFFmpegCapture(cmd, newSilenceMeter(audio.InputFormat.BytesFor(micSilenceWindow), m.onSilent))
	go c.pump(stdout, audio.InputFormat.BytesFor(micFrameDuration))
	return c, nil
}

func micFFmpegArgs(goos, device string, f audio.Format) ([]string, error) {
	rate := strconv.Itoa(f.SampleRateHz)
	channels := strconv.Itoa(f.Channels)
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			// `none:<index>` avoids opening a camera.
			"-f", "avfoundation", "-i", "none:" + device,
			"-ac", channels, "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	case "linux":
		if device == "" {
			device = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", device,
			"-ac", channels, "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("live mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

type ffmpegCapture struct {
	cmd    *exec.Cmd
	frames chan []byte
	done   chan struct{}
	meter  *silenceMeter
	once   sync.Once
}

func newFFmpegCapture(cmd *exec.Cmd, meter *silenceMeter) *ffmpegCapture {
	return &ffmpegCapture{
		cmd:    cmd,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
		meter:  meter,
	}
}

func (c *ffmpegCapture) pump(r io.Reader, frameBytes int) {
	defer close(c.frames)
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return
		}
		c.meter.observe(buf)
		select {
		case c.frames <- buf:
		case <-c.done:
			return
		}
	}
}

func (c *ffmpegCapture) Frames() <-chan []byte { return c.frames }

func (c *ffmpegCapture) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
		}
	})
	return nil
}

// silenceMeter watches the first window bytes of a capture and reports once
// if none of them rise above the threshold.
type silenceMeter struct {
	window   int
	onSilent func()

	seen    int
	decided bool
	loud    bool
}

func newSilenceMeter(window int, onSilent func()) *silenceMeter {
	if onSilent == nil || window <= 0 {
		return nil
	}
	return &silenceMeter{window: window, onSilent: onSilent}
}

func (m *silenceMeter) observe(pcm []byte) {
	if m == nil || m.decided {
		return
	}
	if !audio.Silent(pcm, micSilenceThreshold) {
		m.loud = true
	}
	m.seen += len(pcm)
	if m.seen < m.window && !m.loud {
		return
	}
	m.decided = true
	if !m.loud {
		m.onSilent()
	}
}

// pcmWriter is the running speaker process. Tests substitute a buffer.
type pcmWriter interface {
	Write(p []byte) error
	Restart() error
	Close() error
}

// ffplaySpeaker streams raw PCM into one long-lived ffplay. Bytes written
// back to back play back to back, which keeps scheduled chunks gapless.
type ffplaySpeaker struct {
	path   string
	format audio.Format
	volume int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlaySpeaker(path string, f audio.Format, volume int) *ffplaySpeaker {
	if path == "" {
		path = "ffplay"
	}
	if volume <= 0 {
		volume = 80
	}
	return &ffplaySpeaker{path: path, format: f, volume: volume}
}

func (s *ffplaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	if _, err := exec.LookPath(s.path); err != nil {
		return errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
	chLayout := "mono"
	if s.format.Channels == 2 {
		chLayout = "stereo"
	}
	cmd := exec.Command(s.path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-volume", strconv.Itoa(s.volume),
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", strconv.Itoa(s.format.SampleRateHz),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return err
	}
	_, err := s.stdin.Write(p)
	return err
}

func (s *ffplaySpeaker) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked()
}

func (s *ffplaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *ffplaySpeaker) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}

// liveSink feeds scheduled chunks to the speaker in order. StopAll drops
// whatever the speaker still holds by restarting it.
type liveSink struct {
	out pcmWriter

	mu      sync.Mutex
	stopped bool
}

func (s *liveSink) Schedule(chunk live.Scheduled) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	return s.out.Write(chunk.PCM)
}

func (s *liveSink) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	_ = s.out.Restart()
}

// ffplayPlayer plays one buffer to completion for speech.Player.
type ffplayPlayer struct {
	path string
}

func (p ffplayPlayer) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	path := p.path
	if path == "" {
		path = "ffplay"
	}
	if _, err := exec.LookPath(path); err != nil {
		return errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	chLayout := "mono"
	if f.Channels == 2 {
		chLayout = "stereo"
	}
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error", "-nostats", "-nodisp", "-autoexit",
		"-f", "s16le", "-ch_layout", chLayout, "-ar", strconv.Itoa(f.SampleRateHz),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	_, werr := stdin.Write(pcm)
	_ = stdin.Close()
	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if werr != nil {
		return werr
	}
	return err
}
