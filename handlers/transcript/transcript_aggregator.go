// Package transcript folds streamed transcription deltas into per-speaker
// turns.
package transcript

import (
	"sync"

	"duplexkit/core"
	"duplexkit/metrics"
)

type TurnState int

const (
	NoTurn TurnState = iota
	Accumulating
	Final
)

func (s TurnState) String() string {
	switch s {
	case NoTurn:
		return "no_turn"
	case Accumulating:
		return "accumulating"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// UpdateFunc receives the accumulated text of a turn after every change.
type UpdateFunc func(isFinal bool, text string, speaker core.Speaker)

type turn struct {
	state TurnState
	text  string
}

type update struct {
	isFinal bool
	text    string
	speaker core.Speaker
}

// Aggregator tracks one turn per speaker. Speakers never share state: a delta
// or a turn-complete for one speaker leaves the other untouched.
type Aggregator struct {
	onUpdate UpdateFunc
	logger   *core.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	turns map[core.Speaker]*turn
}

func NewAggregator(onUpdate UpdateFunc, logger *core.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = core.GetLogger()
	}
	a := &Aggregator{
		onUpdate: onUpdate,
		logger:   logger.With(map[string]interface{}{"component": "transcript"}),
		metrics:  m,
		turns:    make(map[core.Speaker]*turn, len(core.Speakers)),
	}
	for _, s := range core.Speakers {
		a.turns[s] = &turn{}
	}
	return a
}

// Apply appends a delta to the speaker's turn. A delta arriving after the
// turn was finalized opens a new turn. A final delta closes the turn.
func (a *Aggregator) Apply(speaker core.Speaker, text string, isFinal bool) {
	if !speaker.Valid() {
		a.logger.Warn("ignoring transcript for unknown speaker", "speaker", string(speaker))
		return
	}

	a.mu.Lock()
	t := a.turns[speaker]
	if t.state != Accumulating {
		if text == "" {
			// nothing to open or finalize
			a.mu.Unlock()
			return
		}
		t.state = Accumulating
		t.text = ""
	} else if text == "" && !isFinal {
		a.mu.Unlock()
		return
	}

	t.text += text
	if isFinal {
		t.state = Final
	}
	u := update{isFinal: isFinal, text: t.text, speaker: speaker}
	a.mu.Unlock()

	a.metrics.RecordTranscriptDelta(string(speaker))
	a.emit(u)
}

// CompleteTurn finalizes the open turn of speaker, or of every speaker when
// speaker is empty. Speakers without an open turn are left alone.
func (a *Aggregator) CompleteTurn(speaker core.Speaker) {
	scope := core.Speakers
	if speaker != "" {
		if !speaker.Valid() {
			a.logger.Warn("ignoring turn complete for unknown speaker", "speaker", string(speaker))
			return
		}
		scope = []core.Speaker{speaker}
	}

	var updates []update
	a.mu.Lock()
	for _, s := range scope {
		t := a.turns[s]
		if t.state != Accumulating {
			continue
		}
		t.state = Final
		updates = append(updates, update{isFinal: true, text: t.text, speaker: s})
	}
	a.mu.Unlock()

	for _, u := range updates {
		a.emit(u)
	}
}

func (a *Aggregator) State(speaker core.Speaker) TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.turns[speaker]; ok {
		return t.state
	}
	return NoTurn
}

// Text returns the text of the speaker's current or last turn.
func (a *Aggregator) Text(speaker core.Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.turns[speaker]; ok {
		return t.text
	}
	return ""
}

// Reset drops every turn without emitting updates.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.turns {
		t.state = NoTurn
		t.text = ""
	}
}

func (a *Aggregator) emit(u update) {
	if a.onUpdate == nil {
		return
	}
	a.onUpdate(u.isFinal, u.text, u.speaker)
}
