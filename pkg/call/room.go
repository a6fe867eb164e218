package call

import (
	"context"
	"sort"
	"sync"

	"github.com/videochat/groupcall/pkg/logger"
)

// Room is a live call.
// The mutex of the room guards its participants together with their
// inbound links, engine calls are made without it.
type Room struct {
	id      string
	reg     *Registry
	engine  Engine
	relay   Relay
	metrics Metrics
	log     *logger.Logger

	mu           sync.Mutex
	participants map[string]*Participant
	closed       bool

	pipeMu    sync.Mutex
	pipe      Pipeline
	destroyed bool
}

func newRoom(reg *Registry, id string) *Room {
	return &Room{
		id:           id,
		reg:          reg,
		engine:       reg.engine,
		relay:        reg.relay,
		metrics:      reg.metrics,
		log:          reg.log.Extend(reg.log.With().Str(logger.RoomField, id)),
		participants: make(map[string]*Participant),
	}
}

func (r *Room) ID() string { return r.id }

// Join adds the session into the room with a new outbound endpoint.
// Nobody is notified about it here.
func (r *Room) Join(ctx context.Context, sessionID string) (*Participant, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if _, ok := r.participants[sessionID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	// the reservation keeps the room from being removed
	p := newParticipant(r, sessionID)
	r.participants[sessionID] = p
	r.mu.Unlock()
	defer close(p.settled)

	pipe, ep, err := r.createOutbound(ctx, p)

	r.mu.Lock()
	if err != nil {
		if r.participants[sessionID] == p {
			delete(r.participants, sessionID)
		}
		p.status = left
		r.mu.Unlock()
		p.events.Close()
		r.reg.RemoveIfEmpty(r.id)
		p.log.Error().Err(err).Msg("join failed")
		return nil, err
	}
	if p.status == left {
		r.mu.Unlock()
		p.events.Close()
		r.releaseEndpoint(pipe, ep)
		return nil, ErrLeftWhileJoining
	}
	p.status = joined
	p.pubMu.Lock()
	p.outbound = ep
	p.pubMu.Unlock()
	r.mu.Unlock()

	go p.watchOutbound()
	r.metrics.ParticipantJoined()
	p.log.Info().Str("ep", ep.ID()).Msg("joined")
	return p, nil
}

func (r *Room) createOutbound(ctx context.Context, p *Participant) (Pipeline, Endpoint, error) {
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return nil, nil, err
	}
	ep, err := pipe.CreateEndpoint(ctx, p.id, p.events)
	if err != nil {
		r.metrics.EngineFailure("create endpoint")
		return nil, nil, engineError("create endpoint", err)
	}
	return pipe, ep, nil
}

// Leave removes the session from the room with all of its links,
// including the links of the other participants from it.
// The room is removed from the registry when nobody is left.
// It reports whether the session was in the room.
func (r *Room) Leave(ctx context.Context, sessionID string) bool {
	r.mu.Lock()
	p, ok := r.participants[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.participants, sessionID)
	wasJoined := p.status == joined
	p.status = left

	links := make([]*PeerLink, 0, len(p.inbound)+len(r.participants))
	for from, l := range p.inbound {
		invariant(from != p.id && l.from == from && l.to == p.id, "bad inbound link %v->%v of %v", l.from, l.to, p.id)
		links = append(links, l)
	}
	p.inbound, p.pending = nil, nil
	for _, other := range r.participants {
		if l, ok := other.inbound[sessionID]; ok {
			invariant(l.to == other.id, "link %v->%v is kept by %v", l.from, l.to, other.id)
			links = append(links, l)
			delete(other.inbound, sessionID)
		}
		delete(other.pending, sessionID)
	}
	r.mu.Unlock()

	p.events.Close()
	for _, l := range links {
		r.releaseLink(l)
	}
	// the in-flight join releases its endpoint by itself
	if !wasJoined {
		select {
		case <-p.settled:
		case <-ctx.Done():
		}
	}
	p.pubMu.Lock()
	ep := p.outbound
	p.outbound = nil
	p.pubMu.Unlock()
	if ep != nil {
		r.releaseEndpoint(r.currentPipeline(), ep)
	}

	if wasJoined {
		r.metrics.ParticipantLeft()
		p.log.Info().Int("links", len(links)).Msg("left")
	}
	r.reg.RemoveIfEmpty(r.id)
	return true
}

// Participant returns the joined session.
func (r *Room) Participant(sessionID string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[sessionID]; ok && p.status == joined {
		return p, nil
	}
	return nil, ErrPeerNotFound
}

// Participants returns a sorted snapshot of the joined session ids.
func (r *Room) Participants() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.participants))
	for id, p := range r.participants {
		if p.status == joined {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Room) Len() int { return len(r.Participants()) }

// sessions returns all the session ids, joining ones included.
func (r *Room) sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// pipeline returns the media pipeline of the room, it is made on the first call.
func (r *Room) pipeline(ctx context.Context) (Pipeline, error) {
	r.pipeMu.Lock()
	defer r.pipeMu.Unlock()
	if r.destroyed {
		return nil, ErrRoomClosed
	}
	if r.pipe != nil {
		return r.pipe, nil
	}
	pipe, err := r.engine.NewPipeline(ctx, r.id)
	if err != nil {
		r.metrics.EngineFailure("new pipeline")
		return nil, engineError("new pipeline", err)
	}
	r.pipe = pipe
	r.log.Debug().Msg("pipeline is created")
	return pipe, nil
}

func (r *Room) currentPipeline() Pipeline {
	r.pipeMu.Lock()
	defer r.pipeMu.Unlock()
	return r.pipe
}

// destroy releases the pipeline of the removed room.
func (r *Room) destroy() {
	r.pipeMu.Lock()
	pipe := r.pipe
	r.pipe, r.destroyed = nil, true
	r.pipeMu.Unlock()
	if pipe == nil {
		return
	}
	if err := pipe.Close(); err != nil {
		r.log.Warn().Err(err).Msg("pipeline close")
	}
}

// releaseLink frees the link endpoint, waiting for its setup to finish.
func (r *Room) releaseLink(l *PeerLink) {
	pipe, ep := l.release()
	if ep != nil {
		r.releaseEndpoint(pipe, ep)
	}
	<-l.ready
}

func (r *Room) releaseEndpoint(pipe Pipeline, ep Endpoint) {
	if pipe == nil || ep == nil {
		return
	}
	if err := pipe.Release(ep); err != nil {
		r.log.Warn().Err(err).Str("ep", ep.ID()).Msg("endpoint release")
	}
}
