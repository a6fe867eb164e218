package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/videochat/groupcall/pkg/logger"
)

// MaxPendingCandidates limits the candidates kept for one pair of
// sessions until their link endpoint exists, the rest are dropped.
const MaxPendingCandidates = 256

var errTooManyCandidates = errors.New("too many pending candidates")

type LinkState uint32

const (
	Negotiating LinkState = iota
	Connected
	Failed
)

func (s LinkState) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// PeerLink is the one-way media leg from the publishing session
// to the receiving one. It lives in the inbound map of the receiver.
type PeerLink struct {
	from, to string

	events *EventQueue
	// ready is closed when the endpoint setup has finished either way.
	ready chan struct{}
	state atomic.Uint32

	// mu serializes the engine calls of the link,
	// so the candidates reach the engine in their arrival order.
	mu       sync.Mutex
	pipe     Pipeline
	endpoint Endpoint
	pending  []Candidate
	released bool
	err      error
}

func newPeerLink(from, to string, pending []Candidate) *PeerLink {
	return &PeerLink{
		from:    from,
		to:      to,
		events:  NewEventQueue(),
		ready:   make(chan struct{}),
		pending: pending,
	}
}

func (l *PeerLink) From() string     { return l.from }
func (l *PeerLink) To() string       { return l.to }
func (l *PeerLink) State() LinkState { return LinkState(l.state.Load()) }

// Endpoint returns the engine endpoint of the link if it is created.
func (l *PeerLink) Endpoint() Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endpoint
}

// Pending returns a copy of the candidates waiting for the endpoint.
func (l *PeerLink) Pending() []Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Candidate(nil), l.pending...)
}

// transition moves the link out of the Negotiating state.
func (l *PeerLink) transition(state LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(state)
}

func (l *PeerLink) transitionLocked(state LinkState) bool {
	if l.released {
		return false
	}
	return l.state.CompareAndSwap(uint32(Negotiating), uint32(state))
}

// attach binds the created endpoint to the link and flushes the buffered candidates.
// It returns false if the link has been released in the meantime.
func (l *PeerLink) attach(ctx context.Context, pipe Pipeline, ep Endpoint, log *logger.Logger) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false
	}
	invariant(l.endpoint == nil, "link %v->%v has got the second endpoint", l.from, l.to)
	l.pipe, l.endpoint = pipe, ep
	for _, c := range l.pending {
		if err := pipe.AddIceCandidate(ctx, ep, c); err != nil {
			log.Warn().Err(err).Msg("buffered candidate was rejected")
		}
	}
	if len(l.pending) > 0 {
		log.Debug().Int("n", len(l.pending)).Msg("flushed candidates")
	}
	l.pending = nil
	return true
}

// abort finishes a failed setup, it reports whether the link moved into Failed.
func (l *PeerLink) abort(err error, fail bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	return fail && l.transitionLocked(Failed)
}

// addCandidate forwards the candidate or keeps it until the endpoint is there.
func (l *PeerLink) addCandidate(ctx context.Context, c Candidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrPeerNotFound
	}
	if l.endpoint == nil {
		if len(l.pending) >= MaxPendingCandidates {
			return errTooManyCandidates
		}
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.pipe.AddIceCandidate(ctx, l.endpoint, c); err != nil {
		return engineError("add candidate", err)
	}
	return nil
}

// negotiate passes the offer into the link endpoint once it is ready.
func (l *PeerLink) negotiate(ctx context.Context, offer string) (answer string, failed bool, err error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return "", false, ErrPeerNotFound
	}
	if l.err != nil {
		return "", false, l.err
	}
	answer, err = l.pipe.ProcessOffer(ctx, l.endpoint, offer)
	if err != nil {
		return "", l.transitionLocked(Failed), engineError("process offer", err)
	}
	return answer, false, nil
}

// release detaches the link from its endpoint and returns the endpoint
// for the caller to free in the engine.
func (l *PeerLink) release() (Pipeline, Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, nil
	}
	l.released = true
	l.events.Close()
	pipe, ep := l.pipe, l.endpoint
	l.endpoint, l.pending = nil, nil
	return pipe, ep
}
