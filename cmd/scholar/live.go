package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vango-go/scholar-lite/pkg/core/live"
)

// liveSession bundles a conversation with the speaker process behind it.
type liveSession struct {
	conv    *live.Conversation
	speaker pcmWriter
}

func newLiveSession(env *cliEnv) (*liveSession, error) {
	if env.deps.microphone == nil || env.deps.speaker == nil {
		return nil, errors.New("live audio is not available")
	}
	connector, err := env.client.Live(env.liveCfg.Voice)
	if err != nil {
		return nil, err
	}
	speaker := env.deps.speaker(env.liveCfg.OutputFormat)
	conv := live.New(live.Dependencies{
		Connector:  connector,
		Microphone: env.deps.microphone(env.stderr),
		Sink:       &liveSink{out: speaker},
		Logger:     env.logger,
		Config:     env.liveCfg,
	})
	return &liveSession{conv: conv, speaker: speaker}, nil
}

func (s *liveSession) Close() error {
	s.conv.Stop()
	return s.speaker.Close()
}

func runLive(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("live", env)
	verbose := fs.Bool("v", false, "print partial transcripts")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	sess, err := newLiveSession(env)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.conv.Start(ctx); err != nil {
		return err
	}
	if env.deps.isTerminal != nil && env.deps.isTerminal(env.stdin) {
		fmt.Fprintln(env.stderr, "listening; press Enter to stop")
	}

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(env.stdin).ReadString('\n')
		close(enter)
	}()

	var sessionErr error
	for {
		select {
		case <-ctx.Done():
			sess.conv.Stop()
			drainUpdates(env.stdout, sess.conv, *verbose)
			return nil
		case <-enter:
			sess.conv.Stop()
			drainUpdates(env.stdout, sess.conv, *verbose)
			return nil
		case u := <-sess.conv.Events():
			printUpdate(env.stdout, u, *verbose)
			if u.Kind == live.UpdateError {
				sessionErr = u.Err
			}
			if u.Kind == live.UpdateState && u.State == live.StateIdle {
				return sessionErr
			}
		}
	}
}

// drainUpdates prints whatever is already queued without waiting.
func drainUpdates(w io.Writer, conv *live.Conversation, verbose bool) {
	for {
		select {
		case u := <-conv.Events():
			printUpdate(w, u, verbose)
		default:
			return
		}
	}
}
