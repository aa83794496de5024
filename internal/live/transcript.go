package live

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psysense/voice-coach/internal/coach"
)

// Transcript aggregates transcript fragments into messages. A fragment is
// appended to the last message when the speaker matches and that message
// is not final; otherwise it starts a new message. An empty final fragment
// closes the speaker's open message.
type Transcript struct {
	mu       sync.Mutex
	messages []coach.Message
	now      func() time.Time
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Add applies one fragment and returns the message it touched
func (t *Transcript) Add(speaker coach.Speaker, text string, isFinal bool) (coach.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := len(t.messages) - 1
	open := last >= 0 && t.messages[last].Role == speaker && !t.messages[last].IsFinal

	if text == "" {
		if isFinal && open {
			t.messages[last].IsFinal = true
			return t.messages[last], true
		}
		return coach.Message{}, false
	}

	if open {
		t.messages[last].Text += text
		t.messages[last].IsFinal = isFinal
		return t.messages[last], true
	}

	msg := coach.Message{
		ID:        uuid.New().String(),
		Role:      speaker,
		Text:      text,
		IsFinal:   isFinal,
		Timestamp: t.now(),
	}
	t.messages = append(t.messages, msg)
	return msg, true
}

// Messages returns a copy of all messages
func (t *Transcript) Messages() []coach.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]coach.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Reset drops every message
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
