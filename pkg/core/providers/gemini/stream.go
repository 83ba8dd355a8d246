package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core/live"
)

var _ live.Connector = (*Provider)(nil)

// liveSession is the subset of *genai.Session the stream needs.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Connect opens a Live API session configured for native audio with input and
// output transcription.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Stream, error) {
	session, err := p.client.Live.Connect(ctx, cfg.Model, buildLiveConfig(cfg))
	if err != nil {
		return nil, wrapError(err)
	}
	return newLiveStream(session, cfg.InputFormat.MIMEType()), nil
}

type liveStream struct {
	session  liveSession
	mimeType string

	closeOnce sync.Once
	closeErr  error
}

func newLiveStream(session liveSession, mimeType string) *liveStream {
	return &liveStream{session: session, mimeType: mimeType}
}

func (s *liveStream) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: s.mimeType},
	})
	if err != nil {
		return fmt.Errorf("send realtime audio: %w", err)
	}
	return nil
}

// Recv blocks until the next server message. Control-only messages such as
// setup acknowledgements are skipped. A normal websocket close is io.EOF.
func (s *liveStream) Recv(ctx context.Context) (live.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return live.Event{}, err
		}
		msg, err := s.session.Receive()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return live.Event{}, io.EOF
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return live.Event{}, fmt.Errorf("live session closed: %d %s", closeErr.Code, closeErr.Text)
			}
			return live.Event{}, err
		}
		if msg != nil && msg.GoAway != nil {
			return live.Event{}, io.EOF
		}
		ev, ok := toEvent(msg)
		if !ok {
			continue
		}
		return ev, nil
	}
}

func (s *liveStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}

// toEvent maps one server message. ok is false when it carries nothing the
// conversation reacts to.
func toEvent(msg *genai.LiveServerMessage) (live.Event, bool) {
	if msg == nil || msg.ServerContent == nil {
		return live.Event{}, false
	}
	sc := msg.ServerContent
	var ev live.Event
	if sc.InputTranscription != nil {
		ev.InputText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputText = sc.OutputTranscription.Text
	}
	ev.Audio = inlineAudio(sc.ModelTurn)
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted

	ok := ev.InputText != "" || ev.OutputText != "" || len(ev.Audio) > 0 || ev.TurnComplete || ev.Interrupted
	return ev, ok
}
