package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	scholar "github.com/vango-go/scholar-lite/sdk"
)

const solutionJSON = `{"solution":"The answer is **4**.","explanation":"Add two and two.","chartData":{"type":"bar","data":[{"name":"a","value":2},{"name":"b","value":4}],"dataKey":"value"}}`

type fakeBackend struct {
	mu         sync.Mutex
	models     []string
	synthCalls int
	events     []live.Event
	// block keeps the live stream open until its context ends.
	block bool
	sent  [][]byte
}

func (b *fakeBackend) Generate(ctx context.Context, req solve.GenerateRequest) (string, error) {
	b.mu.Lock()
	b.models = append(b.models, req.Model)
	b.mu.Unlock()
	return solutionJSON, nil
}

func (b *fakeBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	b.mu.Lock()
	b.synthCalls++
	b.mu.Unlock()
	return []byte{1, 0, 2, 0}, nil
}

func (b *fakeBackend) Search(ctx context.Context, query string) (search.Result, error) {
	return search.Result{
		Text:    "Grounded answer for " + query,
		Sources: []search.Source{{URI: "https://a.example", Title: "A"}, {URI: "https://b.example"}},
	}, nil
}

func (b *fakeBackend) Connect(ctx context.Context, cfg live.Config) (live.Stream, error) {
	return &fakeStream{backend: b, events: append([]live.Event(nil), b.events...), block: b.block}, nil
}

type fakeStream struct {
	backend *fakeBackend
	events  []live.Event
	block   bool
}

func (s *fakeStream) Send(ctx context.Context, pcm []byte) error {
	s.backend.mu.Lock()
	s.backend.sent = append(s.backend.sent, pcm)
	s.backend.mu.Unlock()
	return nil
}

func (s *fakeStream) Recv(ctx context.Context) (live.Event, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	if s.block {
		<-ctx.Done()
		return live.Event{}, ctx.Err()
	}
	return live.Event{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeMic struct{}

func (fakeMic) Open(ctx context.Context) (live.Capture, error) {
	frames := make(chan []byte, 1)
	frames <- make([]byte, 3200)
	return &fakeCapture{frames: frames}, nil
}

type fakeCapture struct {
	frames chan []byte
}

func (c *fakeCapture) Frames() <-chan []byte { return c.frames }
func (c *fakeCapture) Close() error           { return nil }

type fakeSpeaker struct {
	mu       sync.Mutex
	written  []byte
	restarts int
	closed   bool
}

func (s *fakeSpeaker) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, p...)
	return nil
}

func (s *fakeSpeaker) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return nil
}

func (s *fakeSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
}

func (p *fakePlayer) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, pcm)
	return nil
}

type testRig struct {
	backend *fakeBackend
	speaker *fakeSpeaker
	player  *fakePlayer
	deps    cliDeps
}

func newRig() *testRig {
	r := &testRig{
		backend: &fakeBackend{},
		speaker: &fakeSpeaker{},
		player:  &fakePlayer{},
	}
	r.deps = cliDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				GeminiAPIKey:   "test-key",
				Profile:        config.DefaultProfile(),
				SpeechCacheTTL: time.Minute,
			}, nil
		},
		newBackend: func(context.Context, config.Config) (scholar.Backend, error) { return r.backend, nil },
		microphone: func(io.Writer) live.Microphone { return fakeMic{} },
		speaker:    func(audio.Format) pcmWriter { return r.speaker },
		player:     func() speech.Sink { return r.player },
		isTerminal: func(io.Reader) bool { return false },
	}
	return r
}

func (r *testRig) run(t *testing.T, stdin io.Reader, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var out, errOut bytes.Buffer
	code = runMain(context.Background(), args, stdin, &out, &errOut, r.deps)
	return code, out.String(), errOut.String()
}

func TestRunMain_Usage(t *testing.T) {
	r := newRig()
	if code, _, stderr := r.run(t, nil); code != 2 || !strings.Contains(stderr, "usage: scholar") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if code, _, stderr := r.run(t, nil, "bogus"); code != 2 || !strings.Contains(stderr, `unknown command "bogus"`) {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunMain_InvalidLogLevel(t *testing.T) {
	code, _, stderr := newRig().run(t, nil, "-log-level", "loud", "search", "-query", "q")
	if code != 1 || !strings.Contains(stderr, "invalid log level") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunMain_DirectConfigError(t *testing.T) {
	r := newRig()
	r.deps.loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("GEMINI_API_KEY must be set") }
	code, _, stderr := r.run(t, nil, "-direct", "search", "-query", "q")
	if code != 1 || !strings.Contains(stderr, "load config: GEMINI_API_KEY must be set") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSolve_DirectWithSpeech(t *testing.T) {
	r := newRig()
	code, stdout, stderr := r.run(t, nil, "-direct", "solve", "-prompt", "2+2", "-thinking", "-speak")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	for _, want := range []string{"Solution:", "The answer is **4**.", "Explanation:", "Chart (bar):", "##############################", "(model " + solve.DefaultThinkingModel + ")"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if len(r.backend.models) != 1 || r.backend.models[0] != solve.DefaultThinkingModel {
		t.Fatalf("models=%v", r.backend.models)
	}
	if len(r.player.played) != 1 || string(r.player.played[0]) != string([]byte{1, 0, 2, 0}) {
		t.Fatalf("played=%v", r.player.played)
	}
}

func TestSolve_ImageMustBeImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := newRig().run(t, nil, "-direct", "solve", "-image", path)
	if code != 1 || !strings.Contains(stderr, "is not an image") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSearch_Gateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"Paris.","sources":[{"uri":"https://wiki.example/paris","title":"Paris"}]}`)
	}))
	defer srv.Close()

	code, stdout, stderr := newRig().run(t, nil, "-gateway", srv.URL, "search", "capital", "of", "france")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "Paris.") || !strings.Contains(stdout, "[1] Paris - https://wiki.example/paris") {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestSearch_GatewayErrorShowsRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req_1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"type":"provider_error","message":"`+core.MsgSearchFailed+`"}}`)
	}))
	defer srv.Close()

	code, _, stderr := newRig().run(t, nil, "-gateway", srv.URL, "search", "-query", "q")
	if code != 1 || !strings.Contains(stderr, core.MsgSearchFailed+" (request req_1)") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSearch_DirectEmptyQuery(t *testing.T) {
	code, _, stderr := newRig().run(t, nil, "-direct", "search", "-query", "  ")
	if code != 1 || !strings.Contains(stderr, core.MsgSearchEmpty) {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSpeak_WritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	r := newRig()
	code, stdout, stderr := r.run(t, nil, "-direct", "speak", "-text", "hello", "-out", path)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	pcm, f, err := audio.ParseWAV(data)
	if err != nil || string(pcm) != string([]byte{1, 0, 2, 0}) || f != audio.OutputFormat {
		t.Fatalf("pcm=%v format=%+v err=%v", pcm, f, err)
	}
	if !strings.Contains(stdout, "wrote "+path) || len(r.player.played) != 0 {
		t.Fatalf("stdout=%q played=%d", stdout, len(r.player.played))
	}
}

func TestSpeak_Plays(t *testing.T) {
	r := newRig()
	if code, _, stderr := r.run(t, nil, "-direct", "speak", "hello", "there"); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if len(r.player.played) != 1 {
		t.Fatalf("played=%d", len(r.player.played))
	}
}

func TestLive_PrintsTranscriptUntilProviderCloses(t *testing.T) {
	r := newRig()
	r.backend.events = []live.Event{
		{InputText: "what is "},
		{InputText: "pi"},
		{OutputText: "About 3.14."},
		{Audio: []byte{7, 7, 7, 7}},
		{TurnComplete: true},
	}
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()

	code, stdout, stderr := r.run(t, stdin, "-direct", "live")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	for _, want := range []string{"[connecting]", "[active]", "You: what is pi", "Tutor: About 3.14.", "[closed]", "[idle]"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
	r.speaker.mu.Lock()
	defer r.speaker.mu.Unlock()
	if string(r.speaker.written) != string([]byte{7, 7, 7, 7}) || r.speaker.restarts == 0 || !r.speaker.closed {
		t.Fatalf("speaker=%+v", r.speaker)
	}
}

func TestLive_EnterStops(t *testing.T) {
	r := newRig()
	r.backend.block = true
	code, stdout, stderr := r.run(t, strings.NewReader("\n"), "-direct", "live")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "[closed]") {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestDescribeError(t *testing.T) {
	err := &core.Error{Type: core.ErrProvider, Message: "boom", RequestID: "req_9"}
	if got := describeError(err); got != "boom (request req_9)" {
		t.Fatalf("got %q", got)
	}
	if got := describeError(errors.New("plain")); got != "plain" {
		t.Fatalf("got %q", got)
	}
}
