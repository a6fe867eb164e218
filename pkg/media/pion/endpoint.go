package pion

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/logger"
)

const rtpBufferSize = 1500

type Endpoint struct {
	id    string
	owner string
	pc    *webrtc.PeerConnection
	sink  call.EventSink
	log   *logger.Logger

	// the remote candidates wait for the remote description
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit

	// the media of the owner, created on the first subscriber
	trackMu sync.Mutex
	tracks  map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP
}

func newEndpoint(id, owner string, pc *webrtc.PeerConnection, sink call.EventSink, log *logger.Logger) *Endpoint {
	ep := &Endpoint{
		id:     id,
		owner:  owner,
		pc:     pc,
		sink:   sink,
		log:    log.Extend(log.With().Str(logger.SessionField, owner).Str("ep", id)),
		tracks: make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP, 2),
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sink.Push(call.Event{Kind: call.CandidateGathered, Candidate: fromInit(c.ToJSON())})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		ep.log.Debug().Str("state", state.String()).Msg("peer connection")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			sink.Push(call.Event{Kind: call.EndpointConnected})
		case webrtc.PeerConnectionStateFailed:
			sink.Push(call.Event{Kind: call.EndpointFailed})
		}
	})
	pc.OnTrack(ep.forward)
	return ep
}

func (ep *Endpoint) ID() string    { return ep.id }
func (ep *Endpoint) Owner() string { return ep.owner }

// outTracks returns the local tracks with the media of the owner.
func (ep *Endpoint) outTracks() []*webrtc.TrackLocalStaticRTP {
	return []*webrtc.TrackLocalStaticRTP{ep.track(webrtc.RTPCodecTypeAudio), ep.track(webrtc.RTPCodecTypeVideo)}
}

func (ep *Endpoint) track(kind webrtc.RTPCodecType) *webrtc.TrackLocalStaticRTP {
	ep.trackMu.Lock()
	defer ep.trackMu.Unlock()
	if t, ok := ep.tracks[kind]; ok {
		return t
	}
	codec := audioCodec.RTPCodecCapability
	if kind == webrtc.RTPCodecTypeVideo {
		codec = videoCodec.RTPCodecCapability
	}
	t, err := webrtc.NewTrackLocalStaticRTP(codec, kind.String(), ep.owner)
	if err != nil {
		// only fails on bad options
		panic(err)
	}
	ep.tracks[kind] = t
	return t
}

// forward copies the RTP of the owner into the local track of its kind.
func (ep *Endpoint) forward(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	local := ep.track(remote.Kind())
	ep.log.Debug().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("publishing")
	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ep.log.Debug().Err(err).Msg("track read")
			}
			return
		}
		if _, err = local.Write(buf[:n]); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			ep.log.Debug().Err(err).Msg("track write")
			return
		}
	}
}

func (ep *Endpoint) answer(sdp string) (string, error) {
	if err := ep.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := ep.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err = ep.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return ep.pc.LocalDescription().SDP, nil
}

func (ep *Endpoint) offer() (string, error) {
	offer, err := ep.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err = ep.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return ep.pc.LocalDescription().SDP, nil
}

// setRemote applies the description and then the candidates
// that came before it.
func (ep *Endpoint) setRemote(desc webrtc.SessionDescription) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if err := ep.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	for _, c := range ep.pending {
		if err := ep.pc.AddICECandidate(c); err != nil {
			ep.log.Warn().Err(err).Msg("buffered candidate")
		}
	}
	ep.pending = nil
	return nil
}

func (ep *Endpoint) addCandidate(c webrtc.ICECandidateInit) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.pc.RemoteDescription() == nil {
		ep.pending = append(ep.pending, c)
		return nil
	}
	return ep.pc.AddICECandidate(c)
}

// Pending returns the number of candidates waiting for the remote description.
func (ep *Endpoint) Pending() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.pending)
}

func (ep *Endpoint) close() error { return ep.pc.Close() }

func toInit(c call.Candidate) webrtc.ICECandidateInit {
	mid, index := c.SdpMid, c.SdpMLineIndex
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &index}
}

func fromInit(c webrtc.ICECandidateInit) call.Candidate {
	out := call.Candidate{Candidate: c.Candidate}
	if c.SDPMid != nil {
		out.SdpMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		out.SdpMLineIndex = *c.SDPMLineIndex
	}
	return out
}
