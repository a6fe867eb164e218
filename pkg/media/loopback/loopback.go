// Package loopback is an in-process media engine that moves no media.
// It answers every offer and records all the calls, which makes it
// useful for local development of clients and for tests.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/logger"
)

var (
	ErrClosed          = errors.New("pipeline is closed")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// Engine makes loopback pipelines.
type Engine struct {
	// AutoConnect reports endpoints as connected right after an offer.
	AutoConnect bool
	// Fail, when set, is asked before each operation and its error is returned.
	Fail func(op, sessionID string) error

	log   *logger.Logger
	ports atomic.Uint32

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

func New(autoConnect bool, log *logger.Logger) *Engine {
	return &Engine{
		AutoConnect: autoConnect,
		log:         log,
		pipelines:   make(map[string]*Pipeline),
	}
}

func (e *Engine) NewPipeline(_ context.Context, roomID string) (call.Pipeline, error) {
	if err := e.check("new pipeline", ""); err != nil {
		return nil, err
	}
	p := &Pipeline{room: roomID, engine: e, endpoints: make(map[string]*Endpoint)}
	e.mu.Lock()
	e.pipelines[roomID] = p
	e.mu.Unlock()
	e.log.Debug().Str(logger.RoomField, roomID).Msg("loopback pipeline")
	return p, nil
}

// Pipeline returns the last pipeline made for the room.
func (e *Engine) Pipeline(roomID string) *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipelines[roomID]
}

// Live returns the number of endpoints not released yet.
func (e *Engine) Live() (n int) {
	e.mu.Lock()
	pp := make([]*Pipeline, 0, len(e.pipelines))
	for _, p := range e.pipelines {
		pp = append(pp, p)
	}
	e.mu.Unlock()
	for _, p := range pp {
		n += len(p.Endpoints())
	}
	return
}

func (e *Engine) check(op, sessionID string) error {
	if e.Fail == nil {
		return nil
	}
	return e.Fail(op, sessionID)
}

type Endpoint struct {
	id    string
	owner string
	port  uint32
	sink  call.EventSink

	mu         sync.Mutex
	sources    []string
	candidates []call.Candidate
	offers     []string
	answers    []string
	released   bool
}

func (ep *Endpoint) ID() string    { return ep.id }
func (ep *Endpoint) Owner() string { return ep.owner }

// Local returns the host candidate the endpoint gathers on each offer.
func (ep *Endpoint) Local() call.Candidate {
	return call.Candidate{
		Candidate: fmt.Sprintf("candidate:1 1 udp 2130706431 127.0.0.1 %d typ host", ep.port),
		SdpMid:    "0",
	}
}

// Sources returns the owners of the endpoints connected into this one.
func (ep *Endpoint) Sources() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]string(nil), ep.sources...)
}

// Candidates returns the remote candidates in the order of arrival.
func (ep *Endpoint) Candidates() []call.Candidate {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]call.Candidate(nil), ep.candidates...)
}

func (ep *Endpoint) Offers() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]string(nil), ep.offers...)
}

func (ep *Endpoint) Released() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.released
}

// Pipeline keeps the endpoints of one room.
type Pipeline struct {
	room   string
	engine *Engine

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	created   int
	closed    bool
}

func (p *Pipeline) CreateEndpoint(_ context.Context, sessionID string, sink call.EventSink) (call.Endpoint, error) {
	if err := p.engine.check("create endpoint", sessionID); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{id: id.String(), owner: sessionID, port: 40000 + p.engine.ports.Add(1), sink: sink}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.endpoints[ep.id] = ep
	p.created++
	return ep, nil
}

func (p *Pipeline) Connect(_ context.Context, source, sink call.Endpoint) error {
	src, err := p.lookup(source)
	if err != nil {
		return err
	}
	dst, err := p.lookup(sink)
	if err != nil {
		return err
	}
	if err = p.engine.check("connect", dst.owner); err != nil {
		return err
	}
	dst.mu.Lock()
	dst.sources = append(dst.sources, src.owner)
	dst.mu.Unlock()
	return nil
}

func (p *Pipeline) ProcessOffer(_ context.Context, ep call.Endpoint, sdp string) (string, error) {
	e, err := p.lookup(ep)
	if err != nil {
		return "", err
	}
	if err = p.engine.check("process offer", e.owner); err != nil {
		return "", err
	}
	answer := fmt.Sprintf("v=0\r\no=- %d 2 IN IP4 127.0.0.1\r\ns=%s\r\nt=0 0\r\na=loopback:%s\r\n", e.port, e.owner, e.id)
	e.mu.Lock()
	e.offers = append(e.offers, sdp)
	e.answers = append(e.answers, answer)
	e.mu.Unlock()

	e.sink.Push(call.Event{Kind: call.CandidateGathered, Candidate: e.Local()})
	if p.engine.AutoConnect {
		e.sink.Push(call.Event{Kind: call.EndpointConnected})
	}
	return answer, nil
}

func (p *Pipeline) GenerateOffer(_ context.Context, ep call.Endpoint) (string, error) {
	e, err := p.lookup(ep)
	if err != nil {
		return "", err
	}
	if err = p.engine.check("generate offer", e.owner); err != nil {
		return "", err
	}
	return fmt.Sprintf("v=0\r\no=- %d 1 IN IP4 127.0.0.1\r\ns=%s\r\nt=0 0\r\n", e.port, e.owner), nil
}

func (p *Pipeline) ProcessAnswer(_ context.Context, ep call.Endpoint, sdp string) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	if err = p.engine.check("process answer", e.owner); err != nil {
		return err
	}
	e.mu.Lock()
	e.answers = append(e.answers, sdp)
	e.mu.Unlock()
	return nil
}

func (p *Pipeline) AddIceCandidate(_ context.Context, ep call.Endpoint, c call.Candidate) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	if err = p.engine.check("add candidate", e.owner); err != nil {
		return err
	}
	e.mu.Lock()
	e.candidates = append(e.candidates, c)
	e.mu.Unlock()
	return nil
}

func (p *Pipeline) Release(ep call.Endpoint) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.endpoints, e.id)
	p.mu.Unlock()
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
	return nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	for id, e := range p.endpoints {
		e.mu.Lock()
		e.released = true
		e.mu.Unlock()
		delete(p.endpoints, id)
	}
	return nil
}

// Fire sends the event as if it came from the engine.
func (p *Pipeline) Fire(ep call.Endpoint, ev call.Event) bool {
	e, err := p.lookup(ep)
	if err != nil {
		return false
	}
	return e.sink.Push(ev)
}

// Endpoints returns the live endpoints sorted by the owner.
func (p *Pipeline) Endpoints() []*Endpoint {
	p.mu.Lock()
	list := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		list = append(list, e)
	}
	p.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].owner < list[j].owner })
	return list
}

// Created returns the number of endpoints ever made by the pipeline.
func (p *Pipeline) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
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
