// Command scholar is a terminal client for the tutor. It talks to a
// scholar-gateway by default, or straight to Gemini with -direct.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/vango-go/scholar-lite/internal/dotenv"
	"github.com/vango-go/scholar-lite/internal/logging"
	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/providers/gemini"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	scholar "github.com/vango-go/scholar-lite/sdk"
)

const defaultGatewayURL = "http://localhost:8080"

const usage = `usage: scholar [global flags] <command> [flags]

commands:
  solve   -prompt TEXT [-image PATH] [-thinking] [-speak]
  search  -query TEXT
  speak   -text TEXT [-out FILE.wav]
  live    talk to the tutor (ffmpeg mic, ffplay speaker); Enter stops
  repl    interactive shell with :solver, :search and :live tabs

global flags:
`

type cliDeps struct {
	loadConfig func() (config.Config, error)
	newBackend func(context.Context, config.Config) (scholar.Backend, error)
	microphone func(warn io.Writer) live.Microphone
	speaker    func(audio.Format) pcmWriter
	player     func() speech.Sink
	isTerminal func(io.Reader) bool
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.LoadFromEnv,
		newBackend: newGeminiBackend,
		microphone: func(warn io.Writer) live.Microphone {
			return ffmpegMicrophone{onSilent: func() {
				fmt.Fprintln(warn, "warning: microphone input is silent; check the input device and microphone permission")
			}}
		},
		speaker: func(f audio.Format) pcmWriter {
			return newFFPlaySpeaker(os.Getenv("SCHOLAR_FFPLAY"), f, 0)
		},
		player:     func() speech.Sink { return ffplayPlayer{path: os.Getenv("SCHOLAR_FFPLAY")} },
		isTerminal: stdinIsTerminal,
	}
}

func newGeminiBackend(ctx context.Context, cfg config.Config) (scholar.Backend, error) {
	p, err := gemini.New(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Project:  cfg.VertexProject,
		Location: cfg.VertexLocation,
	},
		gemini.WithSpeechModel(cfg.Profile.SpeechModel),
		gemini.WithVoice(cfg.Profile.SpeechVoice),
		gemini.WithSearchModel(cfg.Profile.SearchModel),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func stdinIsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// cliEnv is what every subcommand runs against.
type cliEnv struct {
	client  *scholar.Client
	liveCfg live.Config
	logger  *slog.Logger
	deps    cliDeps

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type globalOptions struct {
	gateway   string
	direct    bool
	voice     string
	logLevel  string
	logFormat string
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	gatewayDefault := os.Getenv("SCHOLAR_GATEWAY_URL")
	if gatewayDefault == "" {
		gatewayDefault = defaultGatewayURL
	}
	var opts globalOptions
	fs := flag.NewFlagSet("scholar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.gateway, "gateway", gatewayDefault, "gateway base URL (env SCHOLAR_GATEWAY_URL)")
	fs.BoolVar(&opts.direct, "direct", false, "call Gemini directly using GEMINI_API_KEY or Vertex credentials")
	fs.StringVar(&opts.voice, "voice", "", "live voice name (default from the gateway or profile)")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "debug|info|warn|error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "text|json")
	if err := fs.Parse(args); err != nil {
		return globalOptions{}, nil, err
	}
	return opts, fs.Args(), nil
}

func buildClient(ctx context.Context, opts globalOptions, deps cliDeps, logger *slog.Logger) (*scholar.Client, live.Config, error) {
	if !opts.direct {
		liveCfg := live.DefaultConfig()
		if opts.voice != "" {
			liveCfg.Voice = opts.voice
		}
		c := scholar.NewClient(scholar.WithBaseURL(opts.gateway), scholar.WithLogger(logger))
		return c, liveCfg, nil
	}

	if deps.loadConfig == nil || deps.newBackend == nil {
		return nil, live.Config{}, errors.New("direct mode is not available")
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return nil, live.Config{}, fmt.Errorf("load config: %w", err)
	}
	backend, err := deps.newBackend(ctx, cfg)
	if err != nil {
		return nil, live.Config{}, fmt.Errorf("init provider: %w", err)
	}
	liveCfg := cfg.Profile.LiveConfig()
	if opts.voice != "" {
		liveCfg.Voice = opts.voice
	}
	c := scholar.NewClient(
		scholar.WithDirect(backend),
		scholar.WithSolveModels(cfg.Profile.SolveModels()),
		scholar.WithSpeechCacheTTL(cfg.SpeechCacheTTL),
		scholar.WithLogger(logger),
	)
	return c, liveCfg, nil
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if stdin == nil {
		stdin = os.Stdin
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "scholar: %v\n", err)
		return 1
	}

	opts, rest, err := parseGlobal(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	logger, closer, err := logging.New(stderr, logging.Options{Level: opts.logLevel, Format: opts.logFormat})
	if err != nil {
		fmt.Fprintf(stderr, "scholar: %v\n", err)
		return 1
	}
	defer closer.Close()

	cmdName, cmdArgs := rest[0], rest[1:]
	run, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(stderr, "scholar: unknown command %q\n", cmdName)
		fmt.Fprint(stderr, usage)
		return 2
	}

	client, liveCfg, err := buildClient(ctx, opts, deps, logger)
	if err != nil {
		fmt.Fprintf(stderr, "scholar: %v\n", err)
		return 1
	}
	env := &cliEnv{
		client:  client,
		liveCfg: liveCfg,
		logger:  logger,
		deps:    deps,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
	if err := run(ctx, env, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "scholar %s: %s\n", cmdName, describeError(err))
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

var commands = map[string]func(context.Context, *cliEnv, []string) error{
	"solve":  runSolve,
	"search": runSearch,
	"speak":  runSpeak,
	"live":   runLive,
	"repl":   runREPL,
}

// describeError prints the user-facing message of a gateway or provider
// error, with the request id when there is one.
func describeError(err error) string {
	var apiErr *core.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.RequestID != "" {
			msg += " (request " + apiErr.RequestID + ")"
		}
		return msg
	}
	return err.Error()
}

func newFlagSet(name string, env *cliEnv) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

func runSolve(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("solve", env)
	prompt := fs.String("prompt", "", "problem text")
	imagePath := fs.String("image", "", "path to a problem image")
	thinking := fs.Bool("thinking", false, "use the thinking model")
	speak := fs.Bool("speak", false, "read the solution aloud")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *prompt == "" && fs.NArg() > 0 {
		*prompt = strings.Join(fs.Args(), " ")
	}

	req := solve.Request{Prompt: *prompt, Thinking: *thinking}
	if *imagePath != "" {
		img, err := readImage(*imagePath)
		if err != nil {
			return err
		}
		req.Image = img
	}

	res, err := env.client.Solve(ctx, req)
	if err != nil {
		return err
	}
	printSolution(env.stdout, res)

	if *speak {
		return readAloud(ctx, env, res.Solution)
	}
	return nil
}

func readImage(path string) (*solve.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s is not an image (%s)", path, mime), "image")
	}
	return &solve.Image{MIMEType: mime, Data: data}, nil
}

func readAloud(ctx context.Context, env *cliEnv, text string) error {
	if env.deps.player == nil {
		return errors.New("playback is not available")
	}
	p := speech.NewPlayer(env.client.Synthesizer(), env.deps.player())
	p.SetText(text)
	return p.Play(ctx)
}

func runSearch(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("search", env)
	query := fs.String("query", "", "search query")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *query == "" && fs.NArg() > 0 {
		*query = strings.Join(fs.Args(), " ")
	}
	res, err := env.client.Search(ctx, *query)
	if err != nil {
		return err
	}
	printSearch(env.stdout, res)
	return nil
}

func runSpeak(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet("speak", env)
	text := fs.String("text", "", "text to synthesize")
	out := fs.String("out", "", "write a WAV file instead of playing")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *text == "" && fs.NArg() > 0 {
		*text = strings.Join(fs.Args(), " ")
	}
	res, err := env.client.Speak(ctx, *text)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, audio.WAV(res.PCM, res.Format), 0o644); err != nil {
			return fmt.Errorf("write wav: %w", err)
		}
		fmt.Fprintf(env.stdout, "wrote %s (%s)\n", *out, res.Format.Duration(len(res.PCM)))
		return nil
	}
	if env.deps.player == nil {
		return errors.New("playback is not available")
	}
	env.logger.Debug("speech ready", "bytes", len(res.PCM), "cached", res.Cached)
	return env.deps.player().Play(ctx, res.PCM, res.Format)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultCLIDeps())
	stop()
	os.Exit(code)
}
