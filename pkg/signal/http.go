package signal

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
	"github.com/videochat/groupcall/pkg/network/websocket"
)

// AuthHeader carries the session id set by the upstream auth.
const AuthHeader = "X-Auth-UserId"

const defaultMaxBytes = 64 * 1024

const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

type Server struct {
	proto    *Protocol
	conf     config.Signal
	ice      []config.IceServer
	upgrader *gws.Upgrader
	log      *logger.Logger
}

type ServerOption func(s *Server)

// WithIceServers sets the ICE servers the clients get with their config.
func WithIceServers(servers []config.IceServer) ServerOption {
	return func(s *Server) { s.ice = servers }
}

func NewServer(proto *Protocol, conf config.Signal, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		proto:    proto,
		conf:     conf,
		upgrader: websocket.NewUpgrader(conf.AllowedOrigins...),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP routes of the signaling API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	prefix := s.conf.UrlPrefix
	if prefix == "" {
		prefix = "/"
	}
	r.Route(prefix, func(r chi.Router) {
		r.Get("/ws", s.serveWS)
		r.Post("/{roomId}/join", s.request(JoinRequest))
		r.Post("/{roomId}/negotiate", s.request(NegotiateRequest))
		r.Post("/{roomId}/ice", s.request(IceCandidateRequest))
		r.Post("/{roomId}/leave", s.request(LeaveRequest))
		r.Get("/{roomId}/participants", s.participants)
		r.Get("/{roomId}/config", s.config)
		r.Put("/internal/{roomId}/kick", s.kick)
	})
	return r
}

func (s *Server) request(t PT) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rq, err := NewRequest(t)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes()))
		if err != nil {
			s.fail(w, r, errors.Join(ErrMalformed, err))
			return
		}
		if err = Decode(body, rq, chi.URLParam(r, "roomId"), r.Header.Get(AuthHeader)); err != nil {
			s.fail(w, r, err)
			return
		}
		res, err := s.proto.Handle(r.Context(), rq, TransportHTTP)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.json(w, http.StatusOK, res)
	}
}

func (s *Server) maxBytes() int64 {
	if s.conf.MaxMessageBytes > 0 {
		return int64(s.conf.MaxMessageBytes)
	}
	return defaultMaxBytes
}

type participantsResponse struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
	Count        int      `json:"count"`
}

func (s *Server) participants(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	list, err := s.proto.Participants(roomID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusOK, participantsResponse{RoomID: roomID, Participants: list, Count: len(list)})
}

// config gives the clients what they need to make their peer connections.
func (s *Server) config(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if err := checkId("roomId", roomID); err != nil {
		s.fail(w, r, err)
		return
	}
	servers := s.ice
	if servers == nil {
		servers = []config.IceServer{}
	}
	s.json(w, http.StatusOK, ConfigPayload{RoomID: roomID, IceServers: servers})
}

func (s *Server) kick(w http.ResponseWriter, r *http.Request) {
	roomID, sessionID := chi.URLParam(r, "roomId"), r.URL.Query().Get("sessionId")
	if err := firstErr(checkId("roomId", roomID), checkId("sessionId", sessionID)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proto.Kick(r.Context(), roomID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// StatusOf maps the errors of the call core onto the HTTP statuses.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, call.ErrAlreadyJoined), errors.Is(err, call.ErrLeftWhileJoining):
		return http.StatusConflict
	case errors.Is(err, call.ErrRoomNotFound), errors.Is(err, call.ErrPeerNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrEngineFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	ev := s.log.Warn()
	if code >= http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Str("req", middleware.GetReqID(r.Context())).Int("code", code).Msg("request failed")
	s.json(w, code, ErrorPayload{Code: code, Error: err.Error()})
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("response encoding")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("req", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("code", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("http")
		}()
		next.ServeHTTP(ww, r)
	})
}
