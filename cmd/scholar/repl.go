package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vango-go/scholar-lite/pkg/core/panel"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	scholar "github.com/vango-go/scholar-lite/sdk"
)

type tab string

const (
	tabSolver tab = "solver"
	tabSearch tab = "search"
	tabLive   tab = "live"
)

const replHelp = `:solver :search :live   switch tab (leaving :live ends the session)
:thinking               toggle the thinking model for solves
:image PATH             attach an image to the next solves (no PATH clears it)
:speak / :pause         read the last solution aloud / stop reading
:start / :stop          start or stop the live conversation
:show                   print the current tab's last result
:help :quit
Any other line is a problem on :solver and a query on :search.
`

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// shell is the terminal rendition of the tabbed UI. Each tab owns its panel;
// requests run in the background so the prompt stays responsive.
type shell struct {
	env *cliEnv
	out io.Writer
	ctx context.Context

	tab      tab
	thinking bool
	image    *solve.Image

	solver   panel.Panel[*scholar.SolveResponse]
	searcher panel.Panel[search.Result]
	player   *speech.Player

	live        *liveSession
	liveDone    chan struct{}
	livePrinter sync.WaitGroup

	wg sync.WaitGroup
}

func runREPL(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("repl", env)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s := &shell{
		env: env,
		out: &lockedWriter{w: env.stdout},
		ctx: ctx,
		tab: tabSolver,
	}
	if env.deps.player != nil {
		s.player = speech.NewPlayer(env.client.Synthesizer(), env.deps.player())
	}
	defer s.close()

	interactive := env.deps.isTerminal != nil && env.deps.isTerminal(env.stdin)
	if interactive {
		fmt.Fprint(s.out, replHelp)
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(env.stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Fprintf(s.out, "%s> ", s.tab)
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the shell should exit.
func (s *shell) handle(line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		s.submit(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprint(s.out, replHelp)
	case ":solver":
		s.switchTab(tabSolver)
	case ":search":
		s.switchTab(tabSearch)
	case ":live":
		s.switchTab(tabLive)
	case ":thinking":
		s.thinking = !s.thinking
		fmt.Fprintf(s.out, "thinking %s\n", onOff(s.thinking))
	case ":image":
		if arg == "" {
			s.image = nil
			fmt.Fprintln(s.out, "image cleared")
			break
		}
		img, err := readImage(arg)
		if err != nil {
			fmt.Fprintf(s.out, "error: %s\n", describeError(err))
			break
		}
		s.image = img
		fmt.Fprintf(s.out, "image attached (%s, %d bytes)\n", img.MIMEType, len(img.Data))
	case ":speak":
		s.speak()
	case ":pause":
		if s.player != nil {
			s.player.Pause()
		}
	case ":start":
		s.startLive()
	case ":stop":
		s.stopLive()
	case ":show":
		s.show()
	default:
		fmt.Fprintf(s.out, "unknown command %s (try :help)\n", cmd)
	}
	return false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s *shell) switchTab(t tab) {
	if s.tab == tabLive && t != tabLive {
		s.stopLive()
	}
	s.tab = t
}

func (s *shell) submit(line string) {
	switch s.tab {
	case tabSolver:
		req := solve.Request{Prompt: line, Thinking: s.thinking, Image: s.image}
		s.background(func() {
			res, err := s.solver.Run(s.ctx, func(ctx context.Context) (*scholar.SolveResponse, error) {
				return s.env.client.Solve(ctx, req)
			})
			if err != nil {
				s.reportErr(err)
				return
			}
			if s.player != nil {
				s.player.SetText(res.Solution)
			}
			printSolution(s.out, res)
		})
	case tabSearch:
		s.background(func() {
			res, err := s.searcher.Run(s.ctx, func(ctx context.Context) (search.Result, error) {
				return s.env.client.Search(ctx, line)
			})
			if err != nil {
				s.reportErr(err)
				return
			}
			printSearch(s.out, res)
		})
	case tabLive:
		fmt.Fprintln(s.out, "use :start and :stop on the live tab")
	}
}

func (s *shell) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *shell) reportErr(err error) {
	if errors.Is(err, panel.ErrBusy) || errors.Is(err, speech.ErrBusy) {
		fmt.Fprintln(s.out, "still working on the previous request")
		return
	}
	fmt.Fprintf(s.out, "error: %s\n", describeError(err))
}

func (s *shell) speak() {
	if s.player == nil {
		fmt.Fprintln(s.out, "playback is not available")
		return
	}
	snap := s.solver.Snapshot()
	if snap.Result == nil {
		fmt.Fprintln(s.out, "nothing to read aloud")
		return
	}
	s.background(func() {
		if err := s.player.Play(s.ctx); err != nil {
			s.reportErr(err)
		}
	})
}

func (s *shell) show() {
	switch s.tab {
	case tabSolver:
		snap := s.solver.Snapshot()
		switch {
		case snap.Loading:
			fmt.Fprintln(s.out, "solving...")
		case snap.Err != nil:
			fmt.Fprintf(s.out, "error: %s\n", describeError(snap.Err))
		case snap.Result != nil:
			printSolution(s.out, *snap.Result)
		default:
			fmt.Fprintln(s.out, "no solution yet")
		}
	case tabSearch:
		snap := s.searcher.Snapshot()
		switch {
		case snap.Loading:
			fmt.Fprintln(s.out, "searching...")
		case snap.Err != nil:
			fmt.Fprintf(s.out, "error: %s\n", describeError(snap.Err))
		case snap.Result != nil:
			printSearch(s.out, *snap.Result)
		default:
			fmt.Fprintln(s.out, "no results yet")
		}
	case tabLive:
		if s.live == nil {
			fmt.Fprintln(s.out, "[idle]")
			return
		}
		fmt.Fprintf(s.out, "[%s]\n", s.live.conv.State())
		for _, e := range s.live.conv.History() {
			fmt.Fprintf(s.out, "%s: %s\n", e.Speaker, e.Text)
		}
	}
}

func (s *shell) startLive() {
	if s.tab != tabLive {
		fmt.Fprintln(s.out, "switch to :live first")
		return
	}
	if s.live == nil {
		sess, err := newLiveSession(s.env)
		if err != nil {
			s.reportErr(err)
			return
		}
		s.live = sess
		s.liveDone = make(chan struct{})
		s.livePrinter.Add(1)
		go s.printLive(sess, s.liveDone)
	}
	if err := s.live.conv.Start(s.ctx); err != nil {
		s.reportErr(err)
	}
}

func (s *shell) printLive(sess *liveSession, done <-chan struct{}) {
	defer s.livePrinter.Done()
	for {
		select {
		case <-done:
			drainUpdates(s.out, sess.conv, false)
			return
		case u := <-sess.conv.Events():
			printUpdate(s.out, u, false)
		}
	}
}

func (s *shell) stopLive() {
	if s.live != nil {
		s.live.conv.Stop()
	}
}

func (s *shell) close() {
	if s.player != nil {
		s.player.Pause()
	}
	s.wg.Wait()
	if s.live != nil {
		_ = s.live.Close()
		close(s.liveDone)
		s.livePrinter.Wait()
		s.live = nil
	}
}
