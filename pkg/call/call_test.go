package call_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/logger"
	"github.com/videochat/groupcall/pkg/media/loopback"
)

type notice struct {
	room, to, from, what string
}

type relayLog struct {
	mu  sync.Mutex
	all []notice
}

func (r *relayLog) Candidate(room, to, from string, c call.Candidate) {
	r.mu.Lock()
	r.all = append(r.all, notice{room, to, from, "candidate " + c.Candidate})
	r.mu.Unlock()
}

func (r *relayLog) LinkState(room, to, from string, state call.LinkState) {
	r.mu.Lock()
	r.all = append(r.all, notice{room, to, from, state.String()})
	r.mu.Unlock()
}

func (r *relayLog) has(n notice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.all {
		if x == n {
			return true
		}
	}
	return false
}

func newTestRegistry(t *testing.T) (*call.Registry, *loopback.Engine, *relayLog) {
	t.Helper()
	engine := loopback.New(false, logger.Nop())
	relay := &relayLog{}
	return call.NewRegistry(engine, call.WithLogger(logger.Nop()), call.WithRelay(relay)), engine, relay
}

func join(t *testing.T, reg *call.Registry, room, session string) *call.Participant {
	t.Helper()
	_, p, err := reg.Join(context.Background(), room, session)
	if err != nil {
		t.Fatalf("join %v to %v: %v", session, room, err)
	}
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %v", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cand(i int) call.Candidate {
	return call.Candidate{Candidate: "candidate:" + strconv.Itoa(i), SdpMid: "0", SdpMLineIndex: uint16(i % 2)}
}

func TestRoomExistsWhileNotEmpty(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	steps := []struct {
		join    bool
		session string
		exists  bool
	}{
		{true, "a", true},
		{true, "b", true},
		{false, "a", true},
		{false, "a", true},
		{false, "b", false},
		{false, "b", false},
		{true, "c", true},
		{false, "c", false},
	}
	for i, s := range steps {
		if s.join {
			join(t, reg, "r", s.session)
		} else if room, err := reg.Get("r"); err == nil {
			room.Leave(ctx, s.session)
		}
		room, err := reg.Get("r")
		if got := err == nil; got != s.exists {
			t.Fatalf("step %v: room exists = %v, want %v", i, got, s.exists)
		}
		if err == nil && room.Len() == 0 {
			t.Fatalf("step %v: empty room is in the registry", i)
		}
	}
	if engine.Live() != 0 {
		t.Errorf("leaked %v endpoints", engine.Live())
	}
	if p := engine.Pipeline("r"); p == nil || !p.Closed() {
		t.Errorf("room pipeline should be closed with the room")
	}
}

func TestAlreadyJoined(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)

	first := join(t, reg, "r", "a")
	ep := first.Outbound()

	_, _, err := reg.Join(context.Background(), "r", "a")
	if !errors.Is(err, call.ErrAlreadyJoined) {
		t.Fatalf("second join err = %v, want AlreadyJoined", err)
	}

	room, _ := reg.Get("r")
	p, err := room.Participant("a")
	if err != nil || p != first {
		t.Fatalf("first session is lost: %v", err)
	}
	if p.Outbound() != ep || ep.(*loopback.Endpoint).Released() {
		t.Errorf("first session endpoint has changed")
	}
	if got := room.Participants(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("participants = %v", got)
	}
}

func TestCandidatesBeforeOffer(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "r", "a")
	b := join(t, reg, "r", "b")

	for i := 0; i < 5; i++ {
		if err := b.AddRemoteCandidate(ctx, "a", cand(i)); err != nil {
			t.Fatalf("candidate %v: %v", i, err)
		}
	}
	if _, ok := b.Link("a"); ok {
		t.Fatalf("link should not exist before the offer")
	}

	if _, err := b.ReceiveMediaFrom(ctx, "a", "o1"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddRemoteCandidate(ctx, "a", cand(5)); err != nil {
		t.Fatal(err)
	}

	link, _ := b.Link("a")
	got := link.Endpoint().(*loopback.Endpoint).Candidates()
	want := []call.Candidate{cand(0), cand(1), cand(2), cand(3), cand(4), cand(5)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
	if len(link.Pending()) != 0 {
		t.Errorf("pending candidates were not flushed")
	}
}

func TestLeaveCascade(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "r", "a")
	b := join(t, reg, "r", "b")
	join(t, reg, "r", "c")

	for _, from := range []string{"a", "c"} {
		if _, err := b.ReceiveMediaFrom(ctx, from, "offer"); err != nil {
			t.Fatal(err)
		}
	}
	fromA, _ := b.Link("a")
	fromC, _ := b.Link("c")
	epA := fromA.Endpoint().(*loopback.Endpoint)
	own := b.Outbound().(*loopback.Endpoint)

	room, _ := reg.Get("r")
	if !room.Leave(ctx, "a") {
		t.Fatal("a was not in the room")
	}

	if _, ok := b.Link("a"); ok {
		t.Errorf("link from a is still in b")
	}
	if !epA.Released() {
		t.Errorf("endpoint of the link from a is not released")
	}
	if own.Released() || fromC.Endpoint() == nil || fromC.Endpoint().(*loopback.Endpoint).Released() {
		t.Errorf("b's own resources are touched")
	}
	if got := b.Links(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("b links = %v", got)
	}
	// b and c outbound plus the link from c
	if engine.Live() != 3 {
		t.Errorf("live endpoints = %v, want 3", engine.Live())
	}
	if _, err := b.ReceiveMediaFrom(ctx, "a", "offer"); !errors.Is(err, call.ErrPeerNotFound) {
		t.Errorf("negotiation with a gone peer, err = %v", err)
	}
}

func TestLinkReuse(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "r", "a")
	b := join(t, reg, "r", "b")
	pipe := engine.Pipeline("r")

	if _, err := b.ReceiveMediaFrom(ctx, "a", "o1"); err != nil {
		t.Fatal(err)
	}
	first, _ := b.Link("a")
	created := pipe.Created()

	if _, err := b.ReceiveMediaFrom(ctx, "a", "o2"); err != nil {
		t.Fatal(err)
	}
	second, _ := b.Link("a")
	if first != second || pipe.Created() != created {
		t.Fatalf("renegotiation made a new link")
	}
	if got := first.Endpoint().(*loopback.Endpoint).Offers(); !reflect.DeepEqual(got, []string{"o1", "o2"}) {
		t.Errorf("offers = %v", got)
	}

	pipe.Fire(first.Endpoint(), call.Event{Kind: call.EndpointFailed})
	eventually(t, "failed link", func() bool { return first.State() == call.Failed })

	old := first.Endpoint().(*loopback.Endpoint)
	if _, err := b.ReceiveMediaFrom(ctx, "a", "o3"); err != nil {
		t.Fatal(err)
	}
	third, _ := b.Link("a")
	if third == first {
		t.Fatalf("failed link was reused")
	}
	if third.State() != call.Negotiating {
		t.Errorf("new link state = %v", third.State())
	}
	if !old.Released() {
		t.Errorf("failed link endpoint is not released")
	}
	if pipe.Created() != created+1 {
		t.Errorf("expected one more endpoint, %v -> %v", created, pipe.Created())
	}
}

func TestRoom42(t *testing.T) {
	t.Parallel()
	reg, engine, relay := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "42", "A")
	b := join(t, reg, "42", "B")

	answer, err := b.ReceiveMediaFrom(ctx, "A", "o1")
	if err != nil || answer == "" {
		t.Fatalf("answer %q, err %v", answer, err)
	}
	link, ok := b.Link("A")
	if !ok || link.State() != call.Negotiating {
		t.Fatalf("A->B link is not negotiating")
	}
	eventually(t, "gathered candidate", func() bool {
		return relay.has(notice{"42", "B", "A", "candidate " + link.Endpoint().(*loopback.Endpoint).Local().Candidate})
	})

	engine.Pipeline("42").Fire(link.Endpoint(), call.Event{Kind: call.EndpointConnected})
	eventually(t, "connected link", func() bool { return link.State() == call.Connected })
	if !relay.has(notice{"42", "B", "A", "connected"}) {
		t.Errorf("connection was not relayed")
	}

	room, _ := reg.Get("42")
	room.Leave(ctx, "A")
	if _, err := reg.Get("42"); err != nil {
		t.Fatalf("room is gone while B is there")
	}
	if _, ok := b.Link("A"); ok {
		t.Errorf("B still has the link from A")
	}

	room.Leave(ctx, "B")
	if _, err := reg.Get("42"); !errors.Is(err, call.ErrRoomNotFound) {
		t.Errorf("room 42 is still in the registry")
	}
}

func TestConcurrentJoins(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	const n = 64

	var wg sync.WaitGroup
	rooms := make([]*call.Room, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms[i], _, errs[i] = reg.Join(context.Background(), "new", fmt.Sprintf("s%02d", i))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("join %v: %v", i, errs[i])
		}
		if rooms[i] != rooms[0] {
			t.Fatalf("join %v got another room instance", i)
		}
	}
	if reg.Len() != 1 {
		t.Errorf("rooms = %v", reg.Rooms())
	}
	if got := rooms[0].Len(); got != n {
		t.Errorf("participants = %v, want %v", got, n)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := strconv.Itoa(i)
			for j := 0; j < 10; j++ {
				room, _, err := reg.Join(ctx, "churn", id)
				if err != nil {
					t.Errorf("join: %v", err)
					return
				}
				room.Leave(ctx, id)
			}
		}()
	}
	wg.Wait()

	if reg.Len() != 0 {
		t.Errorf("empty room leaked: %v", reg.Rooms())
	}
	if engine.Live() != 0 {
		t.Errorf("leaked %v endpoints", engine.Live())
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "r", "a")
	join(t, reg, "r", "b")
	room, _ := reg.Get("r")

	if !room.Leave(ctx, "a") {
		t.Errorf("first leave should find the session")
	}
	if room.Leave(ctx, "a") {
		t.Errorf("second leave should be a no-op")
	}
	if got := room.Participants(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("participants = %v", got)
	}
}

func TestEngineFailures(t *testing.T) {
	t.Parallel()

	t.Run("join", func(t *testing.T) {
		t.Parallel()
		reg, engine, _ := newTestRegistry(t)
		engine.Fail = func(op, s string) error {
			if op == "create endpoint" && s == "bad" {
				return errors.New("no resources")
			}
			return nil
		}
		if _, _, err := reg.Join(context.Background(), "r", "bad"); !errors.Is(err, call.ErrEngineFailure) {
			t.Fatalf("err = %v, want EngineFailure", err)
		}
		if reg.Len() != 0 {
			t.Errorf("room of the failed join stays in the registry")
		}
	})

	t.Run("connect", func(t *testing.T) {
		t.Parallel()
		reg, engine, relay := newTestRegistry(t)
		ctx := context.Background()
		join(t, reg, "r", "a")
		b := join(t, reg, "r", "b")
		engine.Fail = func(op, _ string) error {
			if op == "connect" {
				return errors.New("boom")
			}
			return nil
		}

		if _, err := b.ReceiveMediaFrom(ctx, "a", "o1"); !errors.Is(err, call.ErrEngineFailure) {
			t.Fatalf("err = %v, want EngineFailure", err)
		}
		link, _ := b.Link("a")
		if link.State() != call.Failed {
			t.Errorf("link state = %v", link.State())
		}
		if !relay.has(notice{"r", "b", "a", "failed"}) {
			t.Errorf("failure was not reported")
		}
		if _, err := reg.Get("r"); err != nil {
			t.Errorf("room is gone after engine failure")
		}
		if _, err := reg.GetOrCreate("r").Participant("b"); err != nil {
			t.Errorf("participant is gone after engine failure")
		}

		engine.Fail = nil
		if _, err := b.ReceiveMediaFrom(ctx, "a", "o2"); err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		retry, _ := b.Link("a")
		if retry == link || retry.State() != call.Negotiating {
			t.Errorf("retry should make a fresh link")
		}
	})

	t.Run("offer", func(t *testing.T) {
		t.Parallel()
		reg, engine, _ := newTestRegistry(t)
		ctx := context.Background()
		join(t, reg, "r", "a")
		b := join(t, reg, "r", "b")
		engine.Fail = func(op, _ string) error {
			if op == "process offer" {
				return errors.New("bad sdp")
			}
			return nil
		}
		if _, err := b.ReceiveMediaFrom(ctx, "a", "garbage"); !errors.Is(err, call.ErrEngineFailure) {
			t.Fatalf("err = %v, want EngineFailure", err)
		}
		if link, _ := b.Link("a"); link.State() != call.Failed {
			t.Errorf("link state = %v", link.State())
		}
	})
}

func TestLeaveDuringNegotiation(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	join(t, reg, "r", "a")
	b := join(t, reg, "r", "b")

	entered, proceed := make(chan struct{}), make(chan struct{})
	var once sync.Once
	engine.Fail = func(op, _ string) error {
		if op == "connect" {
			once.Do(func() { close(entered) })
			<-proceed
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.ReceiveMediaFrom(ctx, "a", "o1")
		done <- err
	}()
	<-entered

	room, _ := reg.Get("r")
	left := make(chan struct{})
	go func() {
		room.Leave(ctx, "a")
		close(left)
	}()
	eventually(t, "a removed", func() bool {
		_, err := room.Participant("a")
		return err != nil
	})
	close(proceed)
	<-left

	if err := <-done; !errors.Is(err, call.ErrPeerNotFound) {
		t.Errorf("negotiation err = %v, want PeerNotFound", err)
	}
	if _, ok := b.Link("a"); ok {
		t.Errorf("link from a survived the leave")
	}
	// only b's own endpoint is left
	if engine.Live() != 1 {
		t.Errorf("live endpoints = %v, want 1", engine.Live())
	}
}

func TestUnknownPeers(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	b := join(t, reg, "r", "b")

	if _, err := b.ReceiveMediaFrom(ctx, "ghost", "o"); !errors.Is(err, call.ErrPeerNotFound) {
		t.Errorf("offer from ghost, err = %v", err)
	}
	if err := b.AddRemoteCandidate(ctx, "ghost", cand(1)); !errors.Is(err, call.ErrPeerNotFound) {
		t.Errorf("candidate from ghost, err = %v", err)
	}
	if _, err := reg.Get("nope"); !errors.Is(err, call.ErrRoomNotFound) {
		t.Errorf("unknown room, err = %v", err)
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()
	reg, _, relay := newTestRegistry(t)
	ctx := context.Background()
	a := join(t, reg, "r", "a")

	if err := a.AddRemoteCandidate(ctx, "a", cand(7)); err != nil {
		t.Fatal(err)
	}
	answer, err := a.ReceiveMediaFrom(ctx, "a", "publish")
	if err != nil || answer == "" {
		t.Fatalf("answer %q, err %v", answer, err)
	}
	ep := a.Outbound().(*loopback.Endpoint)
	if got := ep.Candidates(); !reflect.DeepEqual(got, []call.Candidate{cand(7)}) {
		t.Errorf("candidates = %v", got)
	}
	if len(a.Links()) != 0 {
		t.Errorf("publishing made an inbound link")
	}
	eventually(t, "own candidate", func() bool {
		return relay.has(notice{"r", "a", "a", "candidate " + ep.Local().Candidate})
	})
}

func TestRegistryClose(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()
	for _, r := range []string{"x", "y"} {
		join(t, reg, r, "a")
		b := join(t, reg, r, "b")
		if _, err := b.ReceiveMediaFrom(ctx, "a", "o"); err != nil {
			t.Fatal(err)
		}
	}
	reg.Close(ctx)
	if reg.Len() != 0 || engine.Live() != 0 {
		t.Errorf("rooms %v, endpoints %v after close", reg.Rooms(), engine.Live())
	}
}

func TestCandidateBuffering(t *testing.T) {
	t.Parallel()

	t.Run("while the endpoint is made", func(t *testing.T) {
		t.Parallel()
		reg, engine, _ := newTestRegistry(t)
		ctx := context.Background()
		join(t, reg, "r", "a")
		b := join(t, reg, "r", "b")

		if err := b.AddRemoteCandidate(ctx, "a", cand(0)); err != nil {
			t.Fatal(err)
		}
		entered, proceed := make(chan struct{}), make(chan struct{})
		var once sync.Once
		engine.Fail = func(op, _ string) error {
			if op == "connect" {
				once.Do(func() { close(entered) })
				<-proceed
			}
			return nil
		}
		done := make(chan error, 1)
		go func() {
			_, err := b.ReceiveMediaFrom(ctx, "a", "o1")
			done <- err
		}()
		<-entered

		for _, i := range []int{1, 2} {
			if err := b.AddRemoteCandidate(ctx, "a", cand(i)); err != nil {
				t.Fatalf("candidate %v: %v", i, err)
			}
		}
		link, _ := b.Link("a")
		if got := link.Pending(); !reflect.DeepEqual(got, []call.Candidate{cand(0), cand(1), cand(2)}) {
			t.Errorf("pending = %v", got)
		}
		close(proceed)
		if err := <-done; err != nil {
			t.Fatal(err)
		}

		got := link.Endpoint().(*loopback.Endpoint).Candidates()
		if want := []call.Candidate{cand(0), cand(1), cand(2)}; !reflect.DeepEqual(got, want) {
			t.Errorf("candidates = %v, want %v", got, want)
		}
		if len(link.Pending()) != 0 {
			t.Errorf("pending candidates were not flushed")
		}
	})

	t.Run("after the link has failed", func(t *testing.T) {
		t.Parallel()
		reg, engine, _ := newTestRegistry(t)
		ctx := context.Background()
		join(t, reg, "r", "a")
		b := join(t, reg, "r", "b")

		if _, err := b.ReceiveMediaFrom(ctx, "a", "o1"); err != nil {
			t.Fatal(err)
		}
		failed, _ := b.Link("a")
		old := failed.Endpoint().(*loopback.Endpoint)
		engine.Pipeline("r").Fire(old, call.Event{Kind: call.EndpointFailed})
		eventually(t, "failed link", func() bool { return failed.State() == call.Failed })

		for _, i := range []int{7, 8} {
			if err := b.AddRemoteCandidate(ctx, "a", cand(i)); err != nil {
				t.Fatalf("candidate %v: %v", i, err)
			}
		}
		if len(old.Candidates()) != 0 {
			t.Errorf("the failed endpoint got %v", old.Candidates())
		}

		if _, err := b.ReceiveMediaFrom(ctx, "a", "o2"); err != nil {
			t.Fatal(err)
		}
		fresh, _ := b.Link("a")
		if fresh == failed {
			t.Fatalf("the failed link is reused")
		}
		got := fresh.Endpoint().(*loopback.Endpoint).Candidates()
		if want := []call.Candidate{cand(7), cand(8)}; !reflect.DeepEqual(got, want) {
			t.Errorf("candidates = %v, want %v", got, want)
		}
		if !old.Released() {
			t.Errorf("the failed endpoint is not released")
		}
	})
}

func TestPendingCandidateLimit(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()
	join(t, reg, "r", "a")
	b := join(t, reg, "r", "b")

	// the placeholder keeps only the first ones
	for i := 0; i < call.MaxPendingCandidates+5; i++ {
		if err := b.AddRemoteCandidate(ctx, "a", cand(i)); err != nil {
			t.Fatalf("candidate %v: %v", i, err)
		}
	}

	entered, proceed := make(chan struct{}), make(chan struct{})
	var once sync.Once
	engine.Fail = func(op, _ string) error {
		if op == "connect" {
			once.Do(func() { close(entered) })
			<-proceed
		}
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := b.ReceiveMediaFrom(ctx, "a", "o1")
		done <- err
	}()
	<-entered

	// and so does the link without its endpoint
	if err := b.AddRemoteCandidate(ctx, "a", cand(1000)); err != nil {
		t.Fatalf("candidate over the limit: %v", err)
	}
	link, _ := b.Link("a")
	if n := len(link.Pending()); n != call.MaxPendingCandidates {
		t.Errorf("pending = %v, want %v", n, call.MaxPendingCandidates)
	}
	close(proceed)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := link.Endpoint().(*loopback.Endpoint).Candidates()
	if len(got) != call.MaxPendingCandidates {
		t.Fatalf("candidates = %v, want %v", len(got), call.MaxPendingCandidates)
	}
	for i, c := range got {
		if c != cand(i) {
			t.Fatalf("candidate %v = %v, want %v", i, c, cand(i))
		}
	}

	// no limit once the endpoint is there
	if err := b.AddRemoteCandidate(ctx, "a", cand(2000)); err != nil {
		t.Fatal(err)
	}
	if n := len(link.Endpoint().(*loopback.Endpoint).Candidates()); n != call.MaxPendingCandidates+1 {
		t.Errorf("candidates = %v", n)
	}
}

func TestLeaveWhileJoining(t *testing.T) {
	t.Parallel()
	reg, engine, _ := newTestRegistry(t)
	ctx := context.Background()

	entered, proceed := make(chan struct{}), make(chan struct{})
	var once sync.Once
	engine.Fail = func(op, _ string) error {
		if op != "create endpoint" {
			return nil
		}
		first := false
		once.Do(func() { first = true; close(entered) })
		if first {
			<-proceed
		}
		return nil
	}

	joined := make(chan error, 1)
	go func() {
		_, _, err := reg.Join(ctx, "r", "a")
		joined <- err
	}()
	<-entered

	room, err := reg.Get("r")
	if err != nil {
		t.Fatal(err)
	}
	left := make(chan bool, 1)
	go func() { left <- room.Leave(ctx, "a") }()

	// the session is free again once the leave has taken it out
	var again *call.Participant
	eventually(t, "a to join again", func() bool {
		_, p, err := reg.Join(ctx, "r", "a")
		again = p
		return err == nil
	})
	close(proceed)

	if err := <-joined; !errors.Is(err, call.ErrLeftWhileJoining) {
		t.Errorf("join err = %v, want LeftWhileJoining", err)
	}
	if !<-left {
		t.Errorf("leave did not find the joining session")
	}
	if p, err := room.Participant("a"); err != nil || p != again {
		t.Errorf("the second join is lost: %v", err)
	}
	if n := engine.Live(); n != 1 {
		t.Errorf("live endpoints = %v, want 1", n)
	}
}
