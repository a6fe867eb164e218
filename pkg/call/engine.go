package call

import "context"

// Candidate is an ICE candidate as it comes from browsers.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Endpoint is an opaque handle of a media engine endpoint.
type Endpoint interface {
	ID() string
}

// Engine makes media pipelines, one per room.
type Engine interface {
	NewPipeline(ctx context.Context, roomID string) (Pipeline, error)
}

// Pipeline is the room scoped part of the media engine.
// All the calls may block and are never made under the room lock.
type Pipeline interface {
	// CreateEndpoint makes a new endpoint owned by the session.
	// The engine reports its events into the sink until the endpoint is released.
	CreateEndpoint(ctx context.Context, sessionID string, sink EventSink) (Endpoint, error)
	// Connect feeds the media of the source endpoint into the sink endpoint.
	Connect(ctx context.Context, source, sink Endpoint) error
	ProcessOffer(ctx context.Context, ep Endpoint, sdp string) (string, error)
	GenerateOffer(ctx context.Context, ep Endpoint) (string, error)
	ProcessAnswer(ctx context.Context, ep Endpoint, sdp string) error
	AddIceCandidate(ctx context.Context, ep Endpoint, c Candidate) error
	Release(ep Endpoint) error
	Close() error
}

type EventKind uint8

const (
	CandidateGathered EventKind = iota
	EndpointConnected
	EndpointFailed
)

func (k EventKind) String() string {
	switch k {
	case CandidateGathered:
		return "candidate"
	case EndpointConnected:
		return "connected"
	case EndpointFailed:
		return "failed"
	}
	return "unknown"
}

// Event is an asynchronous notification from the media engine.
type Event struct {
	Kind      EventKind
	Candidate Candidate
}

// EventSink accepts engine events, it returns false once it is closed.
type EventSink interface {
	Push(e Event) bool
}
