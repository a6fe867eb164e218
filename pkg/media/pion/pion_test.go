package pion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(config.Engine{Kind: config.EnginePion, PliInterval: time.Second, LogLevel: 3}, logger.Nop())
	if err != nil {
		t.Fatalf("no engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// recvOffer makes a client offer that only receives audio and video.
func recvOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err = pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			t.Fatal(err)
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	return pc, offer.SDP
}

func TestNegotiation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	pipe, err := engine.NewPipeline(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pipe.Close() }()

	pubEvents, subEvents := call.NewEventQueue(), call.NewEventQueue()
	defer pubEvents.Close()
	defer subEvents.Close()
	pub, err := pipe.CreateEndpoint(ctx, "a", pubEvents)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := pipe.CreateEndpoint(ctx, "b", subEvents)
	if err != nil {
		t.Fatal(err)
	}
	if pub.ID() == sub.ID() {
		t.Fatalf("same ids")
	}

	// candidates before the offer wait for it
	if err = pipe.AddIceCandidate(ctx, sub, call.Candidate{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 9 typ host", SdpMid: "0"}); err != nil {
		t.Fatalf("early candidate: %v", err)
	}
	if n := sub.(*Endpoint).Pending(); n != 1 {
		t.Errorf("expected 1 pending candidate, got %v", n)
	}

	if err = pipe.Connect(ctx, pub, sub); err != nil {
		t.Fatalf("connect: %v", err)
	}
	client, offer := recvOffer(t)
	answer, err := pipe.ProcessOffer(ctx, sub, offer)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if sub.(*Endpoint).Pending() != 0 {
		t.Errorf("candidates are still pending")
	}
	if !strings.Contains(answer, "a=sendonly") {
		t.Errorf("the answer sends nothing:\n%v", answer)
	}
	if !strings.Contains(answer, "VP8") || !strings.Contains(answer, "opus") {
		t.Errorf("no codecs in the answer:\n%v", answer)
	}
	if err = client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Errorf("the client rejects the answer: %v", err)
	}

	if err = pipe.Release(sub); err != nil {
		t.Errorf("release: %v", err)
	}
	if _, err = pipe.ProcessOffer(ctx, sub, offer); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("expected unknown endpoint, got %v", err)
	}
	if n := pipe.(*Pipeline).Len(); n != 1 {
		t.Errorf("expected 1 endpoint, got %v", n)
	}
}

func TestServerOffer(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	pipe, _ := engine.NewPipeline(ctx, "1")
	defer func() { _ = pipe.Close() }()

	events := call.NewEventQueue()
	defer events.Close()
	pub, _ := pipe.CreateEndpoint(ctx, "a", events)
	sub, _ := pipe.CreateEndpoint(ctx, "b", events)
	if err := pipe.Connect(ctx, pub, sub); err != nil {
		t.Fatal(err)
	}
	offer, err := pipe.GenerateOffer(ctx, sub)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	if err = client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		t.Fatalf("the client rejects the offer: %v", err)
	}
	answer, err := client.CreateAnswer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = pipe.ProcessAnswer(ctx, sub, answer.SDP); err != nil {
		t.Errorf("answer: %v", err)
	}
}

func TestClosedPipeline(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	pipe, _ := engine.NewPipeline(ctx, "x")
	ep, err := pipe.CreateEndpoint(ctx, "a", call.NewEventQueue())
	if err != nil {
		t.Fatal(err)
	}
	if err = pipe.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err = pipe.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed, got %v", err)
	}
	if _, err = pipe.CreateEndpoint(ctx, "b", call.NewEventQueue()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed, got %v", err)
	}
	if err = pipe.Release(ep); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed, got %v", err)
	}
}

func TestFactoryConfig(t *testing.T) {
	tests := []struct {
		name string
		conf config.Engine
		err  bool
	}{
		{name: "defaults"},
		{name: "no interceptors", conf: config.Engine{DisableDefaultInterceptors: true}},
		{name: "ports", conf: func() (c config.Engine) { c.IcePorts.Min, c.IcePorts.Max = 30000, 30100; return }()},
		{name: "bad ports", conf: func() (c config.Engine) { c.IcePorts.Min, c.IcePorts.Max = 30100, 30000; return }(), err: true},
		{name: "nat", conf: config.Engine{IceIpMap: "10.0.0.1", IceLite: true}},
		{name: "ice servers", conf: config.Engine{IceServers: []config.IceServer{{Urls: "stun:stun.l.google.com:19302"}}}},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			f, err := NewApiFactory(test.conf, logger.Nop(), nil)
			if test.err {
				if err == nil {
					t.Errorf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer func() { _ = f.Close() }()
			pc, err := f.NewPeer()
			if err != nil {
				t.Fatalf("no peer: %v", err)
			}
			_ = pc.Close()
		})
	}
}

func TestCandidateConversion(t *testing.T) {
	c := call.Candidate{Candidate: "candidate:1", SdpMid: "video", SdpMLineIndex: 1}
	if got := fromInit(toInit(c)); got != c {
		t.Errorf("expected %+v, got %+v", c, got)
	}
	if got := fromInit(webrtc.ICECandidateInit{Candidate: "x"}); got.SdpMid != "" || got.SdpMLineIndex != 0 {
		t.Errorf("wrong defaults %+v", got)
	}
}
