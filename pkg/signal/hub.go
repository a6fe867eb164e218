package signal

import (
	"github.com/goccy/go-json"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/com"
	"github.com/videochat/groupcall/pkg/logger"
)

// Conn is a client connection the notices are written to.
type Conn interface {
	Write(data []byte) error
	Close()
}

// Hub keeps one connection per session in a room and delivers
// the server notices to them. Notices to sessions without
// a connection are dropped.
type Hub struct {
	conns   *com.Map[string, Conn]
	metrics Metrics
	log     *logger.Logger
}

func NewHub(metrics Metrics, log *logger.Logger) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{conns: com.NewMap[string, Conn](), metrics: metrics, log: log}
}

func key(roomID, sessionID string) string { return roomID + "\x1f" + sessionID }

// Register binds the connection to the session,
// the connection it replaces is closed.
func (h *Hub) Register(roomID, sessionID string, c Conn) {
	if old, ok := h.conns.Swap(key(roomID, sessionID), c); ok && old != c {
		h.log.Debug().Str(logger.RoomField, roomID).Str(logger.SessionField, sessionID).Msg("connection is replaced")
		old.Close()
	}
}

// Unregister removes the connection if it is still bound to the session.
func (h *Hub) Unregister(roomID, sessionID string, c Conn) bool {
	return h.conns.RemoveIf(key(roomID, sessionID), func(v Conn) bool { return v == c })
}

// Disconnect closes the connection of the session.
func (h *Hub) Disconnect(roomID, sessionID string) {
	if c, ok := h.conns.Pop(key(roomID, sessionID)); ok {
		c.Close()
	}
}

func (h *Hub) Connected(roomID, sessionID string) bool { return h.conns.Has(key(roomID, sessionID)) }

func (h *Hub) Len() int { return h.conns.Len() }

// Notify sends the notice to the session.
func (h *Hub) Notify(roomID, sessionID string, t PT, payload any) bool {
	return h.Send(roomID, sessionID, Out{T: t, Payload: payload})
}

// Send writes the packet into the connection of the session.
func (h *Hub) Send(roomID, sessionID string, out Out) bool {
	c, err := h.conns.Find(key(roomID, sessionID))
	if err != nil {
		h.metrics.Dropped(string(out.T), "no connection")
		return false
	}
	data, err := json.Marshal(out)
	if err != nil {
		h.log.Error().Err(err).Str("t", string(out.T)).Msg("notice encoding")
		return false
	}
	if err = c.Write(data); err != nil {
		h.metrics.Dropped(string(out.T), "closed")
		h.log.Debug().Err(err).Str(logger.RoomField, roomID).Str(logger.SessionField, sessionID).
			Str("t", string(out.T)).Msg("notice is dropped")
		return false
	}
	return true
}

// Broadcast sends the notice to the sessions except one.
func (h *Hub) Broadcast(roomID string, sessions []string, except string, t PT, payload any) {
	for _, s := range sessions {
		if s != except {
			h.Notify(roomID, s, t, payload)
		}
	}
}

// Candidate relays the candidate gathered by the engine
// for the leg from -> to to the client of to.
func (h *Hub) Candidate(roomID, to, from string, c call.Candidate) {
	h.Notify(roomID, to, IceCandidateNotice, CandidatePayload{RoomID: roomID, From: from, Candidate: c})
}

// LinkState relays the final states of the leg from -> to.
func (h *Hub) LinkState(roomID, to, from string, state call.LinkState) {
	var t PT
	switch state {
	case call.Connected:
		t = LinkConnected
	case call.Failed:
		t = LinkFailed
	default:
		return
	}
	h.Notify(roomID, to, t, LinkPayload{RoomID: roomID, From: from, State: state.String()})
}

var _ call.Relay = (*Hub)(nil)
