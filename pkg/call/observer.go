package call

import "github.com/videochat/groupcall/pkg/logger"

// Relay delivers engine notices to participants.
// Transports implement it, the calls must not block for long.
type Relay interface {
	// Candidate hands over an ICE candidate gathered by the engine for
	// the to session on its leg from the from session.
	Candidate(roomID, to, from string, c Candidate)
	// LinkState reports a state change of the from -> to leg.
	LinkState(roomID, to, from string, state LinkState)
}

// Metrics collects the call counters.
type Metrics interface {
	RoomOpened()
	RoomClosed()
	ParticipantJoined()
	ParticipantLeft()
	LinkState(state string)
	EngineFailure(op string)
}

type nopRelay struct{}

func (nopRelay) Candidate(string, string, string, Candidate)  {}
func (nopRelay) LinkState(string, string, string, LinkState) {}

type nopMetrics struct{}

func (nopMetrics) RoomOpened()          {}
func (nopMetrics) RoomClosed()          {}
func (nopMetrics) ParticipantJoined()   {}
func (nopMetrics) ParticipantLeft()     {}
func (nopMetrics) LinkState(string)     {}
func (nopMetrics) EngineFailure(string) {}

type Option func(*Registry)

func WithLogger(log *logger.Logger) Option { return func(r *Registry) { r.log = log } }
func WithRelay(relay Relay) Option        { return func(r *Registry) { r.relay = relay } }
func WithMetrics(m Metrics) Option        { return func(r *Registry) { r.metrics = m } }
