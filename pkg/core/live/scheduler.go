package live

import (
	"time"

	"github.com/vango-go/scholar-lite/pkg/core/audio"
)

// Clock reports elapsed time on the playback timeline.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns a clock that starts at zero now.
func NewClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Now() time.Duration { return time.Since(c.start) }

// Scheduled is one audio chunk placed on the playback timeline.
type Scheduled struct {
	Seq      int64
	Start    time.Duration
	Duration time.Duration
	PCM      []byte
	Format   audio.Format
}

// End is when the chunk finishes playing.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

// Scheduler places chunks back to back: each starts at the later of now and
// the previous chunk's end.
type Scheduler struct {
	clock Clock
	next  time.Duration
	seq   int64
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Schedule(pcm []byte, f audio.Format) Scheduled {
	now := s.clock.Now()
	start := s.next
	if now > start {
		start = now
	}
	d := f.Duration(len(pcm))
	s.next = start + d
	s.seq++
	return Scheduled{
		Seq:      s.seq,
		Start:    start,
		Duration: d,
		PCM:      pcm,
		Format:   f,
	}
}

// Reset forgets the previous end so the next chunk starts immediately.
func (s *Scheduler) Reset() {
	s.next = 0
}

// NextStart is the earliest start for the next chunk.
func (s *Scheduler) NextStart() time.Duration {
	return s.next
}

// Clock exposes the timeline clock, for sinks that need to wait until Start.
func (s *Scheduler) Clock() Clock { return s.clock }
