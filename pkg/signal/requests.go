package signal

import (
	"bytes"
	"errors"
	"fmt"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/videochat/groupcall/pkg/call"
)

const maxIdLen = 256

var ErrMalformed = errors.New("malformed request")

// Request is one of Join, Negotiate, IceCandidate or Leave.
type Request interface {
	Type() PT
	Room() string
	Validate() error
	// bind fills the room and the caller session when they are missing
	// and rejects the ones that don't match.
	bind(roomID, sessionID string) error
}

type (
	Join struct {
		RoomID    string `json:"roomId"`
		SessionID string `json:"sessionId"`
	}
	Negotiate struct {
		RoomID   string `json:"roomId"`
		To       string `json:"toSessionId"`
		From     string `json:"fromSessionId"`
		SdpOffer string `json:"sdpOffer"`
	}
	IceCandidate struct {
		RoomID    string         `json:"roomId"`
		To        string         `json:"toSessionId"`
		From      string         `json:"fromSessionId"`
		Candidate call.Candidate `json:"candidate"`
	}
	Leave struct {
		RoomID    string `json:"roomId"`
		SessionID string `json:"sessionId"`
	}
)

func (Join) Type() PT         { return JoinRequest }
func (Negotiate) Type() PT    { return NegotiateRequest }
func (IceCandidate) Type() PT { return IceCandidateRequest }
func (Leave) Type() PT        { return LeaveRequest }

func (r *Join) Room() string         { return r.RoomID }
func (r *Negotiate) Room() string    { return r.RoomID }
func (r *IceCandidate) Room() string { return r.RoomID }
func (r *Leave) Room() string        { return r.RoomID }

func (r *Join) Validate() error {
	return firstErr(checkId("roomId", r.RoomID), checkId("sessionId", r.SessionID))
}

func (r *Negotiate) Validate() error {
	err := firstErr(checkId("roomId", r.RoomID), checkId("toSessionId", r.To), checkId("fromSessionId", r.From))
	if err == nil && r.SdpOffer == "" {
		err = fmt.Errorf("%w: empty sdpOffer", ErrMalformed)
	}
	return err
}

func (r *IceCandidate) Validate() error {
	err := firstErr(checkId("roomId", r.RoomID), checkId("toSessionId", r.To), checkId("fromSessionId", r.From))
	if err == nil && r.Candidate.Candidate == "" {
		err = fmt.Errorf("%w: empty candidate", ErrMalformed)
	}
	return err
}

func (r *Leave) Validate() error {
	return firstErr(checkId("roomId", r.RoomID), checkId("sessionId", r.SessionID))
}

func (r *Join) bind(room, session string) error {
	return firstErr(fill(&r.RoomID, room, "roomId"), fill(&r.SessionID, session, "sessionId"))
}

func (r *Negotiate) bind(room, session string) error {
	return firstErr(fill(&r.RoomID, room, "roomId"), fill(&r.To, session, "toSessionId"))
}

func (r *IceCandidate) bind(room, session string) error {
	return firstErr(fill(&r.RoomID, room, "roomId"), fill(&r.To, session, "toSessionId"))
}

func (r *Leave) bind(room, session string) error {
	return firstErr(fill(&r.RoomID, room, "roomId"), fill(&r.SessionID, session, "sessionId"))
}

// NewRequest returns an empty request of the type.
func NewRequest(t PT) (Request, error) {
	switch t {
	case JoinRequest:
		return &Join{}, nil
	case NegotiateRequest:
		return &Negotiate{}, nil
	case IceCandidateRequest:
		return &IceCandidate{}, nil
	case LeaveRequest:
		return &Leave{}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, t)
}

// Decode strictly reads the payload into the request
// and binds it to the room and the session of the caller.
func Decode(data []byte, rq Request, roomID, sessionID string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rq); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := rq.bind(roomID, sessionID); err != nil {
		return err
	}
	return rq.Validate()
}

// Unwrap reads a typed request out of the websocket packet.
func Unwrap(in In, roomID, sessionID string) (Request, error) {
	rq, err := NewRequest(in.T)
	if err != nil {
		return nil, err
	}
	if err = Decode(in.Payload, rq, roomID, sessionID); err != nil {
		return nil, err
	}
	return rq, nil
}

func fill(field *string, v, name string) error {
	if v == "" {
		return nil
	}
	if *field == "" {
		*field = v
		return nil
	}
	if *field != v {
		return fmt.Errorf("%w: %s mismatch", ErrMalformed, name)
	}
	return nil
}

func checkId(name, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformed, name)
	}
	if len(id) > maxIdLen {
		return fmt.Errorf("%w: %s is too long", ErrMalformed, name)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: bad %s", ErrMalformed, name)
		}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
