package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// State is the pump lifecycle. Completed, Failed and Cancelled are all
// terminal.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MessageUpdater is the slice of the message store the pump needs: the
// single durable trace a stream leaves is the placeholder message content.
type MessageUpdater interface {
	UpdateMessageContent(ctx context.Context, id, content string) error
}

const checkpointTimeout = 5 * time.Second

// Pump drives one upstream response body through the chunk parser,
// accumulates the full answer text, and checkpoints it into the
// placeholder message exactly once per terminal transition. Exactly one
// pump ever writes a given placeholder, so no locking is needed here.
type Pump struct {
	parser        *Parser
	store         MessageUpdater
	placeholderID string
	provider      string
	log           zerolog.Logger

	acc   strings.Builder
	state State
}

// NewPump creates a pump for one relay request.
func NewPump(d Descriptor, store MessageUpdater, placeholderID string, log zerolog.Logger) *Pump {
	return &Pump{
		parser:        NewParser(d.grammar),
		store:         store,
		placeholderID: placeholderID,
		provider:      d.Provider,
		log:           log,
		state:         StateIdle,
	}
}

// State returns the current pump state.
func (p *Pump) State() State {
	return p.state
}

// Text returns the accumulated answer text so far.
func (p *Pump) Text() string {
	return p.acc.String()
}

// Run drives the upstream body to a terminal state. Every normalized
// event, including the single terminal one, is passed to emit in order.
// The client-visible stream gets every chunk immediately; only the
// persistence write is deferred to the terminal transition.
func (p *Pump) Run(ctx context.Context, body io.Reader, emit func(Event)) State {
	if body == nil {
		p.state = StateFailed
		emit(ErrorEvent("upstream response had no body"))
		return p.state
	}

	p.state = StateStreaming
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return p.finish(ctx, StateCancelled, Done(), emit)
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range p.parser.Feed(buf[:n]) {
				if terminal := p.handle(ctx, ev, emit); terminal {
					return p.state
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Upstream closed without a sentinel: the carry-over may
				// still hold an unterminated frame worth recovering.
				for _, ev := range p.parser.Flush() {
					if terminal := p.handle(ctx, ev, emit); terminal {
						return p.state
					}
				}
				return p.finish(ctx, StateCompleted, Done(), emit)
			}
			if ctx.Err() != nil {
				return p.finish(ctx, StateCancelled, Done(), emit)
			}
			streamErr := &UpstreamStreamError{Provider: p.provider, Err: err}
			p.log.Error().Err(streamErr).Str("message_id", p.placeholderID).Msg("upstream stream failed")
			return p.finish(ctx, StateFailed, ErrorEvent(streamErr.Error()), emit)
		}
	}
}

// handle processes one normalized event, reporting whether it was terminal.
func (p *Pump) handle(ctx context.Context, ev Event, emit func(Event)) bool {
	switch ev.Kind {
	case EventChunk:
		p.acc.WriteString(ev.Text)
		emit(ev)
		return false
	case EventDone:
		p.finish(ctx, StateCompleted, ev, emit)
		return true
	case EventError:
		p.finish(ctx, StateFailed, ev, emit)
		return true
	default:
		return false
	}
}

// finish performs the terminal transition: checkpoint first, then emit the
// terminal event.
func (p *Pump) finish(ctx context.Context, state State, terminal Event, emit func(Event)) State {
	p.state = state
	p.checkpoint(ctx, state)
	emit(terminal)
	return state
}

// checkpoint writes the accumulated text to the placeholder message.
// Completed always writes; Failed and Cancelled write only when partial
// text exists - a half-finished real answer beats losing it.
func (p *Pump) checkpoint(ctx context.Context, state State) {
	if state != StateCompleted && p.acc.Len() == 0 {
		return
	}

	writeCtx := ctx
	if ctx.Err() != nil {
		// The cancellation that ended the stream must not also lose the
		// partial answer.
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
		defer cancel()
		writeCtx = detached
	}

	if err := p.store.UpdateMessageContent(writeCtx, p.placeholderID, p.acc.String()); err != nil {
		p.log.Error().Err(err).
			Str("message_id", p.placeholderID).
			Str("state", state.String()).
			Msg("checkpoint write failed")
	}
}
