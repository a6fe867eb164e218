package call

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/videochat/groupcall/pkg/logger"
)

type status uint8

const (
	joining status = iota
	joined
	left
)

// Participant is the presence of one session in one room.
// It owns the outbound endpoint with the session's own media and
// the inbound links from every peer it receives media from.
type Participant struct {
	id   string
	room *Room
	log  *logger.Logger

	events *EventQueue
	// settled is closed when the join has finished either way.
	settled chan struct{}

	// guarded by room.mu
	status  status
	inbound map[string]*PeerLink
	// candidates of the links which don't exist yet, by the publisher id
	pending map[string][]Candidate

	pubMu    sync.Mutex
	outbound Endpoint
}

func newParticipant(room *Room, id string) *Participant {
	return &Participant{
		id:      id,
		room:    room,
		log:     room.log.Extend(room.log.With().Str(logger.SessionField, id)),
		events:  NewEventQueue(),
		settled: make(chan struct{}),
		inbound: make(map[string]*PeerLink),
		pending: make(map[string][]Candidate),
	}
}

func (p *Participant) ID() string     { return p.id }
func (p *Participant) RoomID() string { return p.room.id }

// Outbound returns the publishing endpoint of the participant,
// nil after leave.
func (p *Participant) Outbound() Endpoint {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	return p.outbound
}

// Link returns the inbound link from the session.
func (p *Participant) Link(from string) (*PeerLink, bool) {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	l, ok := p.inbound[from]
	return l, ok
}

// Links returns the ids of the sessions the participant receives from.
func (p *Participant) Links() []string {
	p.room.mu.Lock()
	ids := make([]string, 0, len(p.inbound))
	for id := range p.inbound {
		ids = append(ids, id)
	}
	p.room.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ReceiveMediaFrom negotiates the leg from the session to this participant
// with the offer of this participant's client and returns the answer.
// A repeated call renegotiates the same link, unless it has failed,
// then a new link is made. The offer from the participant itself is for
// its own outbound endpoint.
func (p *Participant) ReceiveMediaFrom(ctx context.Context, from string, offer string) (string, error) {
	if from == p.id {
		return p.publish(ctx, offer)
	}

	r := p.room
	r.mu.Lock()
	if p.status != joined {
		r.mu.Unlock()
		return "", ErrPeerNotFound
	}
	src, ok := r.participants[from]
	if !ok || src.status != joined {
		r.mu.Unlock()
		return "", ErrPeerNotFound
	}
	var stale *PeerLink
	link, ok := p.inbound[from]
	fresh := !ok || link.State() == Failed
	if fresh {
		if ok {
			stale = link
		}
		link = newPeerLink(from, p.id, p.pending[from])
		delete(p.pending, from)
		p.inbound[from] = link
	}
	r.mu.Unlock()

	log := p.log.Extend(p.log.With().Str(logger.FromField, from))
	if stale != nil {
		log.Debug().Msg("replacing failed link")
		r.releaseLink(stale)
	}
	if fresh {
		r.metrics.LinkState(Negotiating.String())
		go p.watch(link)
		p.setup(ctx, link, src, log)
	}

	answer, failed, err := link.negotiate(ctx, offer)
	if failed {
		r.metrics.EngineFailure("process offer")
		p.linkChanged(link, Failed)
	}
	if err != nil {
		log.Warn().Err(err).Msg("negotiation failed")
	}
	return answer, err
}

// setup creates the receiving endpoint of the link and connects it
// to the publisher, it is called without any lock.
func (p *Participant) setup(ctx context.Context, l *PeerLink, src *Participant, log *logger.Logger) {
	defer close(l.ready)
	r := p.room

	source, pipe := src.Outbound(), r.currentPipeline()
	if source == nil || pipe == nil {
		l.abort(ErrPeerNotFound, false)
		return
	}
	ep, err := pipe.CreateEndpoint(ctx, p.id, l.events)
	if err != nil {
		p.setupFailed(l, "create endpoint", err)
		return
	}
	if err = pipe.Connect(ctx, source, ep); err != nil {
		r.releaseEndpoint(pipe, ep)
		p.setupFailed(l, "connect", err)
		return
	}
	if !l.attach(ctx, pipe, ep, log) {
		// the link was released by a leave in the meantime
		r.releaseEndpoint(pipe, ep)
		l.abort(ErrPeerNotFound, false)
		return
	}
	log.Debug().Str("ep", ep.ID()).Msg("link endpoint is ready")
}

func (p *Participant) setupFailed(l *PeerLink, op string, err error) {
	p.room.metrics.EngineFailure(op)
	if l.abort(engineError(op, err), true) {
		p.linkChanged(l, Failed)
	}
}

// AddRemoteCandidate passes the candidate of the client to the engine
// endpoint of the link from the session. Candidates that come before the
// link has its endpoint are kept and delivered in order later on.
func (p *Participant) AddRemoteCandidate(ctx context.Context, from string, c Candidate) error {
	if from == p.id {
		return p.publishCandidate(ctx, c)
	}

	r := p.room
	r.mu.Lock()
	if p.status != joined {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	if _, ok := r.participants[from]; !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	link := p.inbound[from]
	if link == nil || link.State() == Failed {
		full := len(p.pending[from]) >= MaxPendingCandidates
		if !full {
			p.pending[from] = append(p.pending[from], c)
		}
		r.mu.Unlock()
		if full {
			p.dropCandidate(from)
		}
		return nil
	}
	r.mu.Unlock()

	err := link.addCandidate(ctx, c)
	if errors.Is(err, errTooManyCandidates) {
		p.dropCandidate(from)
		return nil
	}
	return err
}

func (p *Participant) dropCandidate(from string) {
	p.log.Warn().Str(logger.FromField, from).Int("max", MaxPendingCandidates).
		Msg("candidate is dropped, too many are waiting for the link")
}

func (p *Participant) publish(ctx context.Context, offer string) (string, error) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	pipe := p.room.currentPipeline()
	if p.outbound == nil || pipe == nil {
		return "", ErrPeerNotFound
	}
	answer, err := pipe.ProcessOffer(ctx, p.outbound, offer)
	if err != nil {
		p.room.metrics.EngineFailure("process offer")
		return "", engineError("process offer", err)
	}
	return answer, nil
}

func (p *Participant) publishCandidate(ctx context.Context, c Candidate) error {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	pipe := p.room.currentPipeline()
	if p.outbound == nil || pipe == nil {
		return ErrPeerNotFound
	}
	if err := pipe.AddIceCandidate(ctx, p.outbound, c); err != nil {
		return engineError("add candidate", err)
	}
	return nil
}

// watch relays the link engine events until the link is released.
func (p *Participant) watch(l *PeerLink) {
	r := p.room
	for {
		ev, ok := l.events.Pop()
		if !ok {
			return
		}
		switch ev.Kind {
		case CandidateGathered:
			r.relay.Candidate(r.id, l.to, l.from, ev.Candidate)
		case EndpointConnected:
			if l.transition(Connected) {
				p.linkChanged(l, Connected)
			}
		case EndpointFailed:
			if l.transition(Failed) {
				p.linkChanged(l, Failed)
			}
		}
	}
}

// watchOutbound relays the events of the participant's own endpoint.
func (p *Participant) watchOutbound() {
	r := p.room
	for {
		ev, ok := p.events.Pop()
		if !ok {
			return
		}
		switch ev.Kind {
		case CandidateGathered:
			r.relay.Candidate(r.id, p.id, p.id, ev.Candidate)
		case EndpointConnected:
			p.log.Debug().Msg("outbound endpoint connected")
			r.relay.LinkState(r.id, p.id, p.id, Connected)
		case EndpointFailed:
			p.log.Warn().Msg("outbound endpoint failed")
			r.relay.LinkState(r.id, p.id, p.id, Failed)
		}
	}
}

func (p *Participant) linkChanged(l *PeerLink, state LinkState) {
	r := p.room
	r.metrics.LinkState(state.String())
	ev := p.log.Debug()
	if state == Failed {
		ev = p.log.Warn()
	}
	ev.Str(logger.FromField, l.from).Str("state", state.String()).Msg("link")
	r.relay.LinkState(r.id, l.to, l.from, state)
}
