package live

import (
	"context"

	"github.com/psysense/voice-coach/internal/audio"
	"github.com/psysense/voice-coach/internal/coach"
)

// InboundMessage is one event from the streaming session. The concrete
// types below are the only implementations.
type InboundMessage interface {
	inbound()
}

// Interrupted reports that the user barged in on the agent
type Interrupted struct{}

// UserTranscript is a partial transcript of the user's speech
type UserTranscript struct {
	Text string
}

// AgentTranscript is a partial transcript of the agent's speech
type AgentTranscript struct {
	Text string
}

// AgentAudio is an encoded chunk of agent speech
type AgentAudio struct {
	Frame audio.Frame
}

// TurnComplete marks the end of the agent's turn
type TurnComplete struct{}

// Other is any message the controller does not act on
type Other struct{}

func (Interrupted) inbound()     {}
func (UserTranscript) inbound()  {}
func (AgentTranscript) inbound() {}
func (AgentAudio) inbound()      {}
func (TurnComplete) inbound()    {}
func (Other) inbound()           {}

// DialRequest is what the transport needs to open a session
type DialRequest struct {
	AttemptID    string
	Instructions string
	Voice        string
	Tier         coach.Tier
	UseVideo     bool
}

// Stream is an open duplex session. Send methods may be called from one
// goroutine while Receive runs on another.
type Stream interface {
	SendAudio(frame audio.Frame) error
	SendVideo(jpeg []byte) error
	// Receive blocks for the next server message. One server message may
	// carry several events; an interruption always comes first. Receive
	// returns an error once the session is closed by either side.
	Receive() ([]InboundMessage, error)
	Close() error
}

// Dialer opens streaming sessions. It returns once the session is open.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Stream, error)
}

// DialerFactory builds a fresh transport client for one connection attempt,
// so credential changes apply to the next attempt
type DialerFactory func(ctx context.Context) (Dialer, error)
