// Package pion is the WebRTC media engine of the call server.
// Every endpoint is a server-side peer connection: publishers push
// their media into the local tracks of their endpoint and subscriber
// endpoints forward those tracks to their clients.
package pion

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
)

var (
	ErrClosed          = errors.New("pipeline is closed")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

type Engine struct {
	factory *ApiFactory
	log     *logger.Logger
}

func New(conf config.Engine, log *logger.Logger) (*Engine, error) {
	factory, err := NewApiFactory(conf, log, nil)
	if err != nil {
		return nil, err
	}
	return &Engine{factory: factory, log: log}, nil
}

func (e *Engine) NewPipeline(_ context.Context, roomID string) (call.Pipeline, error) {
	return &Pipeline{
		room:      roomID,
		factory:   e.factory,
		endpoints: make(map[string]*Endpoint),
		log:       e.log.Extend(e.log.With().Str(logger.RoomField, roomID)),
	}, nil
}

func (e *Engine) Close() error { return e.factory.Close() }

// Pipeline keeps the peer connections of one room.
type Pipeline struct {
	room    string
	factory *ApiFactory
	log     *logger.Logger

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	closed    bool
}

func (p *Pipeline) CreateEndpoint(_ context.Context, sessionID string, sink call.EventSink) (call.Endpoint, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	pc, err := p.factory.NewPeer()
	if err != nil {
		return nil, err
	}
	ep := newEndpoint(id.String(), sessionID, pc, sink, p.log)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = pc.Close()
		return nil, ErrClosed
	}
	p.endpoints[ep.id] = ep
	p.mu.Unlock()
	return ep, nil
}

// Connect forwards the media published into the source to the sink.
func (p *Pipeline) Connect(_ context.Context, source, sink call.Endpoint) error {
	src, err := p.lookup(source)
	if err != nil {
		return err
	}
	dst, err := p.lookup(sink)
	if err != nil {
		return err
	}
	for _, track := range src.outTracks() {
		sender, err := dst.pc.AddTrack(track)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	dst.log.Debug().Str(logger.FromField, src.owner).Msg("connected")
	return nil
}

func (p *Pipeline) ProcessOffer(_ context.Context, ep call.Endpoint, sdp string) (string, error) {
	e, err := p.lookup(ep)
	if err != nil {
		return "", err
	}
	return e.answer(sdp)
}

func (p *Pipeline) GenerateOffer(_ context.Context, ep call.Endpoint) (string, error) {
	e, err := p.lookup(ep)
	if err != nil {
		return "", err
	}
	return e.offer()
}

func (p *Pipeline) ProcessAnswer(_ context.Context, ep call.Endpoint, sdp string) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	return e.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *Pipeline) AddIceCandidate(_ context.Context, ep call.Endpoint, c call.Candidate) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	return e.addCandidate(toInit(c))
}

func (p *Pipeline) Release(ep call.Endpoint) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.endpoints, e.id)
	p.mu.Unlock()
	return e.close()
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	eps := p.endpoints
	p.endpoints = nil
	p.mu.Unlock()

	var errs []error
	for _, e := range eps {
		if err := e.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.Debug().Int("endpoints", len(eps)).Msg("pipeline is closed")
	return errors.Join(errs...)
}

// Len returns the number of live endpoints.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

func (p *Pipeline) lookup(ep call.Endpoint) (*Endpoint, error) {
	e, ok := ep.(*Endpoint)
	if !ok || e == nil {
		return nil, ErrUnknownEndpoint
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if _, ok = p.endpoints[e.id]; !ok {
		return nil, ErrUnknownEndpoint
	}
	return e, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
