package signal

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/videochat/groupcall/pkg/logger"
	"github.com/videochat/groupcall/pkg/network/websocket"
)

// serveWS binds a websocket to the session of the room.
// The socket gets the notices of the session and takes the same
// requests as the HTTP routes. Closing it makes the session leave.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID, sessionID := q.Get("roomId"), q.Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get(AuthHeader)
	}
	if err := firstErr(checkId("roomId", roomID), checkId("sessionId", sessionID)); err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	log := s.log.Extend(s.log.With().Str(logger.RoomField, roomID).Str(logger.SessionField, sessionID))
	ws := websocket.NewServerWithConn(conn, log,
		websocket.WithReadLimit(s.maxBytes()),
		websocket.WithPingPong(s.conf.PingPong),
	)
	ctx, cancel := context.WithCancel(context.Background())
	ws.OnMessage = func(message []byte, err error) {
		if err != nil {
			return
		}
		s.onPacket(ctx, ws, roomID, sessionID, message)
	}

	hub := s.proto.Hub()
	hub.Register(roomID, sessionID, ws)
	log.Info().Str(logger.ConnField, ws.Id().Short()).Msg("connected")
	ws.Listen()

	go func() {
		<-ws.Done
		cancel()
		// a replaced or a kicked connection doesn't own the session anymore
		if hub.Unregister(roomID, sessionID, ws) {
			s.proto.Leave(context.Background(), roomID, sessionID)
		}
		log.Info().Msg("disconnected")
	}()
}

func (s *Server) onPacket(ctx context.Context, ws *websocket.WS, roomID, sessionID string, message []byte) {
	var in In
	if err := json.Unmarshal(message, &in); err != nil {
		s.reply(ws, Out{T: ErrorNotice, Payload: ErrorPayload{Code: http.StatusBadRequest, Error: ErrMalformed.Error()}})
		return
	}
	rq, err := Unwrap(in, roomID, sessionID)
	if err == nil {
		var res any
		if res, err = s.proto.Handle(ctx, rq, TransportWS); err == nil {
			s.reply(ws, Out{Id: in.Id, T: in.T, Payload: res})
			return
		}
	}
	code := StatusOf(err)
	s.log.Warn().Err(err).Str(logger.RoomField, roomID).Str(logger.SessionField, sessionID).
		Str("t", string(in.T)).Int("code", code).Msg("ws request failed")
	s.reply(ws, Out{Id: in.Id, T: ErrorNotice, Payload: ErrorPayload{Code: code, Error: err.Error()}})
}

func (s *Server) reply(ws *websocket.WS, out Out) {
	data, err := json.Marshal(out)
	if err != nil {
		s.log.Error().Err(err).Msg("ws reply encoding")
		return
	}
	if err = ws.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("ws reply")
	}
}
