package scholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	liveproto "github.com/vango-go/scholar-lite/pkg/gateway/live/protocol"
)

const (
	defaultLiveConnectTimeout = 15 * time.Second
	liveWriteTimeout          = 5 * time.Second
)

var _ live.Connector = (*LiveConnector)(nil)

// LiveConnector implements live.Connector over the gateway's /v1/live
// WebSocket, so a live.Conversation runs unchanged against a gateway.
type LiveConnector struct {
	// URL is the ws:// or wss:// address of /v1/live.
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
	// Voice overrides the gateway's default voice when set.
	Voice string
	// Binary sends and receives audio as binary frames instead of base64 JSON.
	Binary bool
	Logger *slog.Logger
}

func (c *LiveConnector) Connect(ctx context.Context, cfg live.Config) (live.Stream, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultLiveConnectTimeout,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, decodeGatewayErrorResponse(resp, c.URL, http.MethodGet)
		}
		return nil, &TransportError{Op: "GET", URL: c.URL, Err: err}
	}

	transport := liveproto.AudioTransportBase64JSON
	if c.Binary {
		transport = liveproto.AudioTransportBinary
	}
	voice := c.Voice
	if voice == "" {
		voice = cfg.Voice
	}
	hello := liveproto.ClientHello{
		Type:            "hello",
		ProtocolVersion: liveproto.ProtocolVersion1,
		Client:          liveproto.HelloClient{Name: "scholar-go"},
		AudioIn:         liveproto.AudioIn,
		AudioOut:        liveproto.AudioOut,
		Voice:           voice,
		Features:        liveproto.HelloFeatures{AudioTransport: transport},
	}

	deadline := time.Now().Add(defaultLiveConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "hello", URL: c.URL, Err: err}
	}
	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "hello_ack", URL: c.URL, Err: err}
	}
	msg, err := liveproto.DecodeServerMessage(data)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch m := msg.(type) {
	case *liveproto.ServerHelloAck:
		_ = conn.SetReadDeadline(time.Time{})
		_ = conn.SetWriteDeadline(time.Time{})
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("live session opened", "session_id", m.SessionID, "model", m.Model, "voice", m.Voice)
		return &liveStream{
			conn:   conn,
			ack:    *m,
			binary: m.Features.AudioTransport == liveproto.AudioTransportBinary,
			logger: logger,
		}, nil
	case *liveproto.ServerError:
		_ = conn.Close()
		return nil, liveCloseError(m.Code, m.Message)
	default:
		_ = conn.Close()
		return nil, core.NewAPIError(fmt.Sprintf("unexpected %T before hello_ack", msg))
	}
}

type liveStream struct {
	conn   *websocket.Conn
	ack    liveproto.ServerHelloAck
	binary bool
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// SessionID returns the gateway-assigned id.
func (s *liveStream) SessionID() string { return s.ack.SessionID }

func (s *liveStream) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if s.binary {
		return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
	}
	return s.conn.WriteJSON(liveproto.ClientAudioFrame{Type: "audio_frame", DataB64: audio.EncodeBase64(pcm)})
}

// Recv maps gateway frames back onto provider events. Transcript entries and
// state frames are skipped; the local Conversation derives its own.
func (s *liveStream) Recv(ctx context.Context) (live.Event, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		ev, ok, err := s.next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return live.Event{}, ctxErr
			}
			return live.Event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

func (s *liveStream) next() (live.Event, bool, error) {
	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		return live.Event{}, false, mapReadError(err)
	}
	if typ != websocket.TextMessage {
		return live.Event{}, false, nil
	}
	msg, err := liveproto.DecodeServerMessage(data)
	if err != nil {
		var decErr *liveproto.DecodeError
		if errors.As(err, &decErr) {
			s.logger.Debug("skip live frame", "error", err)
			return live.Event{}, false, nil
		}
		return live.Event{}, false, err
	}

	switch m := msg.(type) {
	case *liveproto.ServerTranscriptDelta:
		if m.Speaker == string(live.SpeakerUser) {
			return live.Event{InputText: m.Text}, m.Text != "", nil
		}
		return live.Event{OutputText: m.Text}, m.Text != "", nil
	case *liveproto.ServerTurnComplete:
		return live.Event{TurnComplete: true}, true, nil
	case *liveproto.ServerAudioChunk:
		pcm, err := audio.DecodeBase64(m.AudioB64)
		if err != nil {
			return live.Event{}, false, core.NewAPIError("gateway sent invalid audio")
		}
		return live.Event{Audio: pcm}, len(pcm) > 0, nil
	case *liveproto.ServerAudioChunkHeader:
		bt, pcm, err := s.conn.ReadMessage()
		if err != nil {
			return live.Event{}, false, mapReadError(err)
		}
		if bt != websocket.BinaryMessage || len(pcm) != m.Bytes {
			return live.Event{}, false, core.NewAPIError("audio_chunk_header not followed by its binary frame")
		}
		return live.Event{Audio: pcm}, len(pcm) > 0, nil
	case *liveproto.ServerAudioReset:
		return live.Event{Interrupted: true}, m.Reason == "interrupted", nil
	case *liveproto.ServerWarning:
		s.logger.Warn("live gateway warning", "session_id", s.ack.SessionID, "code", m.Code, "message", m.Message)
		return live.Event{}, false, nil
	case *liveproto.ServerError:
		return live.Event{}, false, liveCloseError(m.Code, m.Message)
	default:
		return live.Event{}, false, nil
	}
}

func mapReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("live session closed: %d %s", closeErr.Code, closeErr.Text)
	}
	return err
}

// Close asks the gateway to stop, then closes the socket. It is idempotent.
func (s *liveStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(2 * time.Second)
		_ = s.conn.SetWriteDeadline(deadline)
		if payload, err := json.Marshal(liveproto.ClientControl{Type: "control", Op: liveproto.ControlStop}); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, payload)
		}
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
