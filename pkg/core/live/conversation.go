package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/vango-go/scholar-lite/pkg/core"
)

// State is the conversation lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type UpdateKind string

const (
	UpdateState        UpdateKind = "state"
	UpdateEntry        UpdateKind = "entry"
	UpdatePartial      UpdateKind = "partial"
	UpdateTurnComplete UpdateKind = "turn_complete"
	UpdateInterrupted  UpdateKind = "interrupted"
	UpdateError        UpdateKind = "error"
)

// Update is published on Events for every observable change.
type Update struct {
	Kind  UpdateKind
	State State
	Entry Entry
	// Input and Output carry the in-progress turn text for UpdatePartial.
	Input  string
	Output string
	Err    error
}

const defaultUpdateBuffer = 128

type Dependencies struct {
	Connector  Connector
	Microphone Microphone
	Sink       Sink
	Clock      Clock
	Logger     *slog.Logger
	Config     Config
	// UpdateBuffer sizes the Events channel. Updates are dropped when it is full.
	UpdateBuffer int
}

// Conversation orchestrates one microphone, one provider stream and one sink.
// It may be started again after it returns to Idle.
type Conversation struct {
	connector Connector
	mic       Microphone
	sink      Sink
	logger    *slog.Logger
	cfg       Config

	updates chan Update

	// sinkMu orders playback delivery against teardown. Taken before mu.
	sinkMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	run         *run
	aborting    bool
	cancelStart context.CancelFunc
	transcript  Transcript
	scheduler   *Scheduler
}

type run struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	stream  Stream
	capture Capture
	wg      sync.WaitGroup
	once    sync.Once
}

func (r *run) close() {
	r.once.Do(func() {
		r.cancel()
		_ = r.stream.Close()
		_ = r.capture.Close()
	})
}

func New(deps Dependencies) *Conversation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buf := deps.UpdateBuffer
	if buf <= 0 {
		buf = defaultUpdateBuffer
	}
	return &Conversation{
		connector: deps.Connector,
		mic:       deps.Microphone,
		sink:      deps.Sink,
		logger:    logger,
		cfg:       deps.Config.withDefaults(),
		updates:   make(chan Update, buf),
		scheduler: NewScheduler(deps.Clock),
	}
}

// Events returns the update stream. The channel is never closed.
func (c *Conversation) Events() <-chan Update {
	return c.updates
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a snapshot of the finished entries of the current session.
func (c *Conversation) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Entries()
}

// Start opens the microphone and the provider stream and begins pumping.
// The session outlives ctx's cancellation; use Stop to end it.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.aborting = false
	startCtx, cancelStart := context.WithCancel(ctx)
	c.cancelStart = cancelStart
	c.transcript.Reset()
	c.scheduler.Reset()
	c.mu.Unlock()
	defer cancelStart()
	c.emit(Update{Kind: UpdateState, State: StateConnecting})

	capture, err := c.mic.Open(startCtx)
	if err != nil {
		if c.abortStart() {
			return ErrStopped
		}
		c.logger.Warn("live microphone open failed", "error", err)
		return core.NewPermissionError(core.MsgLiveStartFailed).WithCause(err)
	}

	stream, err := c.connector.Connect(startCtx, c.cfg)
	if err != nil {
		_ = capture.Close()
		if c.abortStart() {
			return ErrStopped
		}
		c.logger.Warn("live connect failed", "model", c.cfg.Model, "error", err)
		return startProviderError(err)
	}

	c.mu.Lock()
	if c.aborting {
		c.mu.Unlock()
		_ = stream.Close()
		_ = capture.Close()
		c.abortStart()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		gen:     gen,
		ctx:     runCtx,
		cancel:  cancel,
		stream:  stream,
		capture: capture,
	}
	c.run = r
	c.cancelStart = nil
	c.state = StateActive
	r.wg.Add(2)
	c.mu.Unlock()

	c.logger.Info("live session started", "model", c.cfg.Model, "voice", c.cfg.Voice)
	c.emit(Update{Kind: UpdateState, State: StateActive})

	go c.sendLoop(r)
	go c.recvLoop(r)
	return nil
}

// Stop ends the session. It is safe to call from any state and more than once.
// A Start still connecting is cancelled; the conversation stays Connecting
// until that Start has released its microphone and stream.
func (c *Conversation) Stop() {
	c.mu.Lock()
	r := c.run
	if r == nil {
		if c.state == StateConnecting && !c.aborting {
			c.aborting = true
			if c.cancelStart != nil {
				c.cancelStart()
			}
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.finish(r, nil)
	r.wg.Wait()
}

// abortStart returns a failed or stopped Start to Idle and reports whether
// Stop asked for it.
func (c *Conversation) abortStart() bool {
	c.mu.Lock()
	stopped := c.aborting
	c.aborting = false
	c.cancelStart = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.emit(Update{Kind: UpdateState, State: StateIdle})
	return stopped
}

func (c *Conversation) sendLoop(r *run) {
	defer r.wg.Done()
	frames := r.capture.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if r.ctx.Err() == nil {
					c.logger.Info("live microphone closed")
					c.finish(r, nil)
				}
				return
			}
			if len(frame) == 0 {
				continue
			}
			if err := r.stream.Send(r.ctx, frame); err != nil {
				if r.ctx.Err() != nil {
					return
				}
				c.finish(r, err)
				return
			}
		}
	}
}

func (c *Conversation) recvLoop(r *run) {
	defer r.wg.Done()
	for {
		ev, err := r.stream.Recv(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("live session closed by provider")
				c.finish(r, nil)
				return
			}
			c.finish(r, err)
			return
		}
		c.handle(r, ev)
	}
}

func (c *Conversation) handle(r *run, ev Event) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	if ev.InputText != "" {
		c.transcript.AppendInput(ev.InputText)
	}
	if ev.OutputText != "" {
		c.transcript.AppendOutput(ev.OutputText)
	}
	var flushed []Entry
	if ev.TurnComplete {
		flushed = c.transcript.CompleteTurn()
	}
	input, output := c.transcript.Pending()
	if ev.Interrupted {
		c.scheduler.Reset()
	}
	var chunk Scheduled
	hasAudio := len(ev.Audio) > 0
	if hasAudio {
		chunk = c.scheduler.Schedule(ev.Audio, c.cfg.OutputFormat)
	}
	c.mu.Unlock()

	if (ev.InputText != "" || ev.OutputText != "") && !ev.TurnComplete {
		c.emit(Update{Kind: UpdatePartial, Input: input, Output: output})
	}
	for _, e := range flushed {
		c.emit(Update{Kind: UpdateEntry, Entry: e})
	}
	if ev.TurnComplete {
		c.emit(Update{Kind: UpdateTurnComplete})
	}
	if !ev.Interrupted && !hasAudio {
		return
	}

	// finish clears c.run before its StopAll, so a run that is still current
	// here cannot have its playback stopped until this delivery is done.
	c.sinkMu.Lock()
	c.mu.Lock()
	current := c.run == r
	c.mu.Unlock()
	if current && ev.Interrupted {
		c.sink.StopAll()
	}
	if current && hasAudio {
		if err := c.sink.Schedule(chunk); err != nil {
			c.logger.Warn("live playback schedule failed", "seq", chunk.Seq, "error", err)
		}
	}
	c.sinkMu.Unlock()

	if current && ev.Interrupted {
		c.emit(Update{Kind: UpdateInterrupted})
	}
}

// finish tears a run down once. A nil cause is a clean close.
func (c *Conversation) finish(r *run, cause error) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	c.run = nil
	if cause != nil {
		c.state = StateError
	} else {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if cause != nil {
		c.logger.Error("live session failed", "error", cause)
		c.emit(Update{Kind: UpdateState, State: StateError})
		c.emit(Update{Kind: UpdateError, Err: core.NewAPIError(core.MsgLiveConnection).WithCause(cause)})
	}

	r.close()
	c.sinkMu.Lock()
	c.sink.StopAll()
	c.sinkMu.Unlock()

	c.mu.Lock()
	if c.gen == r.gen && c.run == nil {
		c.scheduler.Reset()
		c.state = StateIdle
	}
	c.mu.Unlock()

	if cause == nil {
		c.emit(Update{Kind: UpdateState, State: StateClosed})
	}
	c.emit(Update{Kind: UpdateState, State: StateIdle})
	c.logger.Info("live session ended")
}

func (c *Conversation) emit(u Update) {
	select {
	case c.updates <- u:
	default:
		c.logger.Debug("live update dropped", "kind", u.Kind)
	}
}

func startProviderError(err error) *core.Error {
	return (&core.Error{
		Type:          core.ErrProvider,
		Message:       core.MsgLiveStartFailed,
		ProviderError: err.Error(),
	}).WithCause(err)
}
