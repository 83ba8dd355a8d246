package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	"github.com/vango-go/scholar-lite/pkg/gateway/lifecycle"
	"github.com/vango-go/scholar-lite/pkg/gateway/live/protocol"
	"github.com/vango-go/scholar-lite/pkg/gateway/live/session"
	"github.com/vango-go/scholar-lite/pkg/gateway/live/sessions"
)

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Connector    live.Connector
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	// Clock is injected by tests; nil uses a monotonic clock per session.
	Clock live.Clock
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	reqID := requestIDFromContext(r.Context())
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, 529)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}
	if h.Connector == nil {
		writeCoreErrorJSON(w, reqID, core.NewAPIError("live conversations are not configured"), http.StatusInternalServerError)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			h.writeWSError(conn, decErr.Code, decErr.Message, paramDetails(decErr.Param))
			return
		}
		h.writeWSError(conn, "bad_request", "invalid hello frame", nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", paramDetails("protocol_version"))
		return
	}
	if !sameFormat(hello.AudioIn, protocol.AudioIn) {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono", paramDetails("audio_in"))
		return
	}
	if !sameFormat(hello.AudioOut, protocol.AudioOut) {
		h.writeWSError(conn, "unsupported", "audio_out must be pcm_s16le @24000Hz mono", paramDetails("audio_out"))
		return
	}
	transport := hello.Features.AudioTransport

	liveCfg := h.Config.Profile.LiveConfig()
	if v := strings.TrimSpace(hello.Voice); v != "" {
		liveCfg.Voice = v
	}

	sessionID := "s_" + randHex(8)
	s, err := session.New(session.Dependencies{
		Conn:       conn,
		Logger:     h.Logger,
		Connector:  h.Connector,
		LiveConfig: liveCfg,
		Clock:      h.Clock,
		SessionID:  sessionID,
		RequestID:  reqID,
		Config: session.Config{
			MaxAudioFrameBytes:   h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes:  h.Config.LiveMaxJSONMessageBytes,
			PingInterval:         h.Config.LiveWSPingInterval,
			WriteTimeout:         h.Config.LiveWSWriteTimeout,
			MaxSessionDuration:   h.Config.LiveMaxSessionDuration,
			OutboundQueueSize:    128,
			AudioTransportBinary: transport == protocol.AudioTransportBinary,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", nil)
		return
	}

	unregister, err := h.LiveSessions.TryRegister(sessionID, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	}, h.Config.LiveMaxSessions)
	if err != nil {
		s.Cancel()
		h.writeWSError(conn, "overloaded", "too many active live sessions", nil)
		return
	}
	defer unregister()

	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Model:           liveCfg.Model,
		Voice:           liveCfg.Voice,
		AudioIn:         protocol.AudioIn,
		AudioOut:        protocol.AudioOut,
		Features:        protocol.HelloAckFeatures{AudioTransport: transport},
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: int(h.Config.LiveMaxJSONMessageBytes),
			MaxSessionMS:        h.Config.LiveMaxSessionDuration.Milliseconds(),
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if h.Logger != nil {
		h.Logger.Info("live session started", "session_id", sessionID, "request_id", reqID, "model", liveCfg.Model, "voice", liveCfg.Voice, "audio_transport", transport)
	}
	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
		return
	}
	if h.Logger != nil {
		h.Logger.Info("live session ended", "session_id", sessionID, "request_id", reqID)
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	// The bundled UI is same-origin.
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func sameFormat(got, want protocol.AudioFormat) bool {
	return strings.TrimSpace(got.Encoding) == want.Encoding &&
		got.SampleRateHz == want.SampleRateHz &&
		got.Channels == want.Channels
}

func paramDetails(param string) map[string]any {
	if param == "" {
		return nil
	}
	return map[string]any{"param": param}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
