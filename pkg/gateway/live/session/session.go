// Package session bridges one /v1/live WebSocket to one live.Conversation.
//
// Inbound PCM frames feed the conversation as its microphone. The conversation's
// playback sink and update stream are serialized onto the socket through a
// two-queue writer: state, reset and close-bearing error frames take priority
// over transcripts and audio.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/gateway/live/protocol"
)

const (
	outboundPriorityQueueSize = 8
	inboundFrameQueueSize     = 32
)

var errBackpressure = errors.New("live outbound backpressure")

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
}

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxSessionDuration  time.Duration
	OutboundQueueSize   int
	// AudioTransportBinary sends audio as a JSON header plus a binary frame.
	AudioTransportBinary bool
}

type Dependencies struct {
	Conn       Conn
	Logger     *slog.Logger
	Connector  live.Connector
	LiveConfig live.Config
	Clock      live.Clock
	SessionID  string
	RequestID  string
	Config     Config
}

type LiveSession struct {
	conn      Conn
	logger    *slog.Logger
	connector live.Connector
	liveCfg   live.Config
	clock     live.Clock
	sessionID string
	requestID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	mic      *frameMicrophone
	audioGen atomic.Uint64

	// Text already sent as deltas for the current turn.
	sentInput  string
	sentOutput string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Clock == nil {
		deps.Clock = live.NewClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.SessionID, "request_id", deps.RequestID),
		connector:        deps.Connector,
		liveCfg:          deps.LiveConfig,
		clock:            deps.Clock,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		mic:              newFrameMicrophone(inboundFrameQueueSize),
	}, nil
}

// Run blocks until the client stops, the conversation ends, or Cancel is called.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		limit := s.cfg.MaxJSONMessageBytes
		if int64(s.cfg.MaxAudioFrameBytes) > limit {
			limit = int64(s.cfg.MaxAudioFrameBytes)
		}
		s.conn.SetReadLimit(limit)
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
			isStale:  s.isStaleAudio,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func(err error) error {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return err
	}

	conv := live.New(live.Dependencies{
		Connector:  s.connector,
		Microphone: s.mic,
		Sink:       wsSink{s: s},
		Clock:      s.clock,
		Logger:     s.logger,
		Config:     s.liveCfg,
	})

	if err := conv.Start(s.ctx); err != nil {
		code, message := errorFrameFields(err)
		_ = s.sendSessionError(code, message, true, nil)
		return flushAndClose(err)
	}
	defer conv.Stop()

	var expired <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		t := time.NewTimer(s.cfg.MaxSessionDuration)
		defer t.Stop()
		expired = t.C
	}

	var active bool
	for {
		select {
		case <-s.ctx.Done():
			conv.Stop()
			return nil

		case <-expired:
			conv.Stop()
			s.drainUpdates(conv)
			_ = s.sendSessionError("session_expired", "maximum session duration reached", true, nil)
			return flushAndClose(nil)

		case err := <-writerErrCh:
			conv.Stop()
			return err

		case u := <-conv.Events():
			if u.Kind == live.UpdateState {
				if u.State == live.StateActive {
					active = true
				}
				if u.State == live.StateIdle && active {
					_ = s.sendState(u.State)
					return flushAndClose(nil)
				}
			}
			s.forward(u)

		case in, ok := <-readCh:
			if !ok {
				return nil
			}
			if in.err != nil {
				conv.Stop()
				if websocket.IsCloseError(in.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return in.err
			}
			pcm, stop, err := s.decodeInbound(in)
			if err != nil {
				code, message := errorFrameFields(err)
				_ = s.sendSessionError(code, message, false, nil)
				continue
			}
			if stop {
				conv.Stop()
				s.drainUpdates(conv)
				return flushAndClose(nil)
			}
			if len(pcm) == 0 {
				continue
			}
			if !s.mic.push(pcm) {
				s.logger.Debug("live inbound frame dropped", "bytes", len(pcm))
			}
		}
	}
}

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}

// decodeInbound returns PCM to forward, or stop for a client stop request.
func (s *LiveSession) decodeInbound(in inboundFrame) (pcm []byte, stop bool, err error) {
	switch in.messageType {
	case websocket.BinaryMessage:
		if err := s.checkFrameSize(len(in.data)); err != nil {
			return nil, false, err
		}
		return in.data, false, nil
	case websocket.TextMessage:
	default:
		return nil, false, nil
	}

	msg, err := protocol.DecodeClientMessage(in.data)
	if err != nil {
		return nil, false, err
	}
	switch m := msg.(type) {
	case protocol.ClientAudioFrame:
		data, err := audio.DecodeBase64(m.DataB64)
		if err != nil {
			return nil, false, &protocol.DecodeError{Code: "bad_request", Message: "audio_frame.data_b64 is not valid base64", Param: "data_b64"}
		}
		if err := s.checkFrameSize(len(data)); err != nil {
			return nil, false, err
		}
		return data, false, nil
	case protocol.ClientControl:
		return nil, m.Op == protocol.ControlStop, nil
	case protocol.ClientHello:
		return nil, false, &protocol.DecodeError{Code: "bad_request", Message: "hello already received", Param: "type"}
	default:
		return nil, false, nil
	}
}

func (s *LiveSession) checkFrameSize(n int) error {
	if s.cfg.MaxAudioFrameBytes > 0 && n > s.cfg.MaxAudioFrameBytes {
		return &protocol.DecodeError{Code: "bad_request", Message: fmt.Sprintf("audio frame exceeds %d bytes", s.cfg.MaxAudioFrameBytes)}
	}
	if n%2 != 0 {
		return &protocol.DecodeError{Code: "bad_request", Message: "audio frame must hold whole 16-bit samples"}
	}
	return nil
}

func (s *LiveSession) forward(u live.Update) {
	switch u.Kind {
	case live.UpdateState:
		_ = s.sendState(u.State)
	case live.UpdatePartial:
		if delta := strings.TrimPrefix(u.Input, s.sentInput); delta != "" && strings.HasPrefix(u.Input, s.sentInput) {
			s.sentInput = u.Input
			_ = s.sendJSON(protocol.ServerTranscriptDelta{Type: "transcript_delta", Speaker: protocol.SpeakerUser, Text: delta})
		}
		if delta := strings.TrimPrefix(u.Output, s.sentOutput); delta != "" && strings.HasPrefix(u.Output, s.sentOutput) {
			s.sentOutput = u.Output
			_ = s.sendJSON(protocol.ServerTranscriptDelta{Type: "transcript_delta", Speaker: protocol.SpeakerModel, Text: delta})
		}
	case live.UpdateEntry:
		_ = s.sendJSON(protocol.ServerTranscriptEntry{
			Type:    "transcript_entry",
			ID:      u.Entry.ID,
			Speaker: string(u.Entry.Speaker),
			Text:    u.Entry.Text,
		})
	case live.UpdateTurnComplete:
		s.sentInput, s.sentOutput = "", ""
		_ = s.sendJSON(protocol.ServerTurnComplete{Type: "turn_complete"})
	case live.UpdateInterrupted:
		_ = s.sendAudioReset("interrupted")
	case live.UpdateError:
		code, message := errorFrameFields(u.Err)
		_ = s.sendSessionError(code, message, true, nil)
	}
}

// drainUpdates forwards what a stopped conversation already published.
func (s *LiveSession) drainUpdates(conv *live.Conversation) {
	for {
		select {
		case u := <-conv.Events():
			s.forward(u)
		default:
			return
		}
	}
}

// errorFrameFields maps an error to a client-safe code and message.
func errorFrameFields(err error) (code, message string) {
	var decErr *protocol.DecodeError
	if errors.As(err, &decErr) && decErr != nil {
		return decErr.Code, decErr.Error()
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		switch coreErr.Type {
		case core.ErrPermission:
			return "permission_denied", coreErr.Message
		case core.ErrOverloaded:
			return "overloaded", coreErr.Message
		case core.ErrAPI, core.ErrProvider:
			return "provider_error", coreErr.Message
		default:
			return "bad_request", coreErr.Message
		}
	}
	if errors.Is(err, live.ErrAlreadyActive) {
		return "bad_request", "conversation already active"
	}
	return "internal", core.MsgLiveConnection
}

func (s *LiveSession) isStaleAudio(gen uint64) bool {
	return gen != s.audioGen.Load()
}

func (s *LiveSession) sendState(state live.State) error {
	return s.sendJSONPriority(protocol.ServerState{Type: "state", State: state.String()})
}

func (s *LiveSession) sendAudioChunk(chunk live.Scheduled) error {
	gen := s.audioGen.Load()
	startMS := chunk.Start.Milliseconds()
	durationMS := chunk.Duration.Milliseconds()
	if s.cfg.AudioTransportBinary {
		header, err := json.Marshal(protocol.ServerAudioChunkHeader{
			Type:       "audio_chunk_header",
			Seq:        chunk.Seq,
			StartMS:    startMS,
			DurationMS: durationMS,
			Bytes:      len(chunk.PCM),
		})
		if err != nil {
			return err
		}
		buf := make([]byte, len(chunk.PCM))
		copy(buf, chunk.PCM)
		return s.enqueueNormal(outboundFrame{isAudio: true, audioGen: gen, binaryPair: &binaryPair{header: header, data: buf}})
	}
	payload, err := json.Marshal(protocol.ServerAudioChunk{
		Type:       "audio_chunk",
		Seq:        chunk.Seq,
		StartMS:    startMS,
		DurationMS: durationMS,
		AudioB64:   audio.EncodeBase64(chunk.PCM),
	})
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{isAudio: true, audioGen: gen, textPayload: payload})
}

// dropQueuedAudio invalidates every audio frame queued so far.
func (s *LiveSession) dropQueuedAudio() {
	s.audioGen.Add(1)
}

func (s *LiveSession) sendAudioReset(reason string) error {
	return s.sendJSONPriority(protocol.ServerAudioReset{Type: "audio_reset", Reason: reason})
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) sendSessionError(code, message string, close bool, details map[string]any) error {
	msg := protocol.ServerError{Type: "error", Code: code, Message: message, Close: close, Details: details}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{textPayload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{textPayload: payload})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	if frame.isAudio && s.isStaleAudio(frame.audioGen) {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority evicts the oldest priority frames to make room.
func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// wsSink plays scheduled chunks by sending them to the client.
type wsSink struct {
	s *LiveSession
}

func (k wsSink) Schedule(chunk live.Scheduled) error {
	err := k.s.sendAudioChunk(chunk)
	if errors.Is(err, errBackpressure) {
		k.s.dropQueuedAudio()
		_ = k.s.sendAudioReset("backpressure")
	}
	return err
}

func (k wsSink) StopAll() {
	k.s.dropQueuedAudio()
}

// frameMicrophone is a live.Microphone fed by inbound WebSocket frames.
type frameMicrophone struct {
	mu     sync.Mutex
	frames chan []byte
	opened bool
	closed bool
}

func newFrameMicrophone(buffer int) *frameMicrophone {
	return &frameMicrophone{frames: make(chan []byte, buffer)}
}

func (m *frameMicrophone) Open(ctx context.Context) (live.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("microphone closed")
	}
	if m.opened {
		return nil, errors.New("microphone already open")
	}
	m.opened = true
	return m, nil
}

func (m *frameMicrophone) Frames() <-chan []byte { return m.frames }

func (m *frameMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return nil
}

// push never blocks; it reports false when the frame was dropped.
func (m *frameMicrophone) push(pcm []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.opened {
		return false
	}
	select {
	case m.frames <- pcm:
		return true
	default:
		return false
	}
}
