package live

import (
	"strings"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Entry is one finished utterance in the session history.
type Entry struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcript accumulates streamed transcription until a turn completes.
// It is not safe for concurrent use; Conversation guards it.
type Transcript struct {
	input   strings.Builder
	output  strings.Builder
	entries []Entry
}

func (t *Transcript) AppendInput(s string)  { t.input.WriteString(s) }
func (t *Transcript) AppendOutput(s string) { t.output.WriteString(s) }

// Pending returns the text accumulated so far in the current turn.
func (t *Transcript) Pending() (input, output string) {
	return t.input.String(), t.output.String()
}

// CompleteTurn flushes the accumulators as a user entry then a model entry,
// skipping either when blank, and resets both.
func (t *Transcript) CompleteTurn() []Entry {
	var flushed []Entry
	if in := strings.TrimSpace(t.input.String()); in != "" {
		flushed = append(flushed, Entry{ID: uuid.NewString(), Speaker: SpeakerUser, Text: in})
	}
	if out := strings.TrimSpace(t.output.String()); out != "" {
		flushed = append(flushed, Entry{ID: uuid.NewString(), Speaker: SpeakerModel, Text: out})
	}
	t.input.Reset()
	t.output.Reset()
	t.entries = append(t.entries, flushed...)
	return flushed
}

// Entries returns a copy of the history.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Reset clears history and accumulators.
func (t *Transcript) Reset() {
	t.input.Reset()
	t.output.Reset()
	t.entries = nil
}
