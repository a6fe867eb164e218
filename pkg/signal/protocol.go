package signal

import (
	"context"
	"errors"

	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/logger"
)

// Metrics counts the handled and the dropped messages.
type Metrics interface {
	Dropped(kind, reason string)
	Request(kind, transport string)
}

type nopMetrics struct{}

func (nopMetrics) Dropped(string, string) {}
func (nopMetrics) Request(string, string) {}

// Protocol handles the signaling requests on top of the room registry.
// Messages for unknown rooms or sessions are logged and dropped.
type Protocol struct {
	reg     *call.Registry
	hub     *Hub
	metrics Metrics
	log     *logger.Logger
}

func NewProtocol(reg *call.Registry, hub *Hub, metrics Metrics, log *logger.Logger) *Protocol {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Protocol{reg: reg, hub: hub, metrics: metrics, log: log}
}

func (p *Protocol) Registry() *call.Registry { return p.reg }
func (p *Protocol) Hub() *Hub                { return p.hub }

// Join puts the session into the room, it tells the newcomer who is
// already there and everybody else about the newcomer.
func (p *Protocol) Join(ctx context.Context, roomID, sessionID string) ([]string, error) {
	room, _, err := p.reg.Join(ctx, roomID, sessionID)
	if err != nil {
		return nil, err
	}
	all := room.Participants()
	existing := make([]string, 0, len(all))
	for _, s := range all {
		if s != sessionID {
			existing = append(existing, s)
		}
	}
	p.hub.Notify(roomID, sessionID, ExistingParticipants, ParticipantsPayload{RoomID: roomID, Participants: existing})
	p.hub.Broadcast(roomID, existing, sessionID, ParticipantJoined, SessionPayload{RoomID: roomID, SessionID: sessionID})
	return existing, nil
}

// Negotiate passes the offer of the to client for the media of the from
// session and returns the answer. The answer is empty for dropped messages.
func (p *Protocol) Negotiate(ctx context.Context, roomID, to, from, offer string) (string, error) {
	part, err := p.participant(roomID, to)
	if err != nil {
		p.drop(NegotiateRequest, roomID, to, from, err)
		return "", nil
	}
	answer, err := part.ReceiveMediaFrom(ctx, from, offer)
	if errors.Is(err, call.ErrPeerNotFound) {
		p.drop(NegotiateRequest, roomID, to, from, err)
		return "", nil
	}
	return answer, err
}

// IceCandidate passes the candidate of the to client for the leg from the from session.
func (p *Protocol) IceCandidate(ctx context.Context, roomID, to, from string, c call.Candidate) error {
	part, err := p.participant(roomID, to)
	if err != nil {
		p.drop(IceCandidateRequest, roomID, to, from, err)
		return nil
	}
	err = part.AddRemoteCandidate(ctx, from, c)
	if errors.Is(err, call.ErrPeerNotFound) {
		p.drop(IceCandidateRequest, roomID, to, from, err)
		return nil
	}
	return err
}

// Leave removes the session from the room and tells the others.
// Leaving twice is fine.
func (p *Protocol) Leave(ctx context.Context, roomID, sessionID string) {
	room, err := p.reg.Get(roomID)
	if err != nil {
		return
	}
	if room.Leave(ctx, sessionID) {
		p.hub.Broadcast(roomID, room.Participants(), sessionID, ParticipantLeft, SessionPayload{RoomID: roomID, SessionID: sessionID})
	}
	p.reg.RemoveIfEmpty(roomID)
}

// Kick forces the session out of the room and closes its connection.
func (p *Protocol) Kick(ctx context.Context, roomID, sessionID string) {
	p.log.Info().Str(logger.RoomField, roomID).Str(logger.SessionField, sessionID).Msg("kick")
	p.Leave(ctx, roomID, sessionID)
	p.hub.Disconnect(roomID, sessionID)
}

// Participants returns the sorted session ids of the room.
func (p *Protocol) Participants(roomID string) ([]string, error) {
	room, err := p.reg.Get(roomID)
	if err != nil {
		return nil, err
	}
	return room.Participants(), nil
}

// Handle runs the typed request, the result is the payload of the response.
func (p *Protocol) Handle(ctx context.Context, rq Request, transport string) (any, error) {
	p.metrics.Request(string(rq.Type()), transport)
	switch r := rq.(type) {
	case *Join:
		existing, err := p.Join(ctx, r.RoomID, r.SessionID)
		if err != nil {
			return nil, err
		}
		return ParticipantsPayload{RoomID: r.RoomID, Participants: existing}, nil
	case *Negotiate:
		answer, err := p.Negotiate(ctx, r.RoomID, r.To, r.From, r.SdpOffer)
		if err != nil {
			return nil, err
		}
		return AnswerPayload{SdpAnswer: answer}, nil
	case *IceCandidate:
		return nil, p.IceCandidate(ctx, r.RoomID, r.To, r.From, r.Candidate)
	case *Leave:
		p.Leave(ctx, r.RoomID, r.SessionID)
		return nil, nil
	}
	return nil, ErrMalformed
}

func (p *Protocol) participant(roomID, sessionID string) (*call.Participant, error) {
	room, err := p.reg.Get(roomID)
	if err != nil {
		return nil, err
	}
	return room.Participant(sessionID)
}

func (p *Protocol) drop(t PT, roomID, to, from string, err error) {
	reason := "unknown session"
	if errors.Is(err, call.ErrRoomNotFound) {
		reason = "unknown room"
	}
	p.metrics.Dropped(string(t), reason)
	p.log.Warn().Str(logger.RoomField, roomID).Str(logger.ToField, to).Str(logger.FromField, from).
		Str("t", string(t)).Msg("message is dropped: " + reason)
}
