package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/videochat/groupcall/pkg/com"
	"github.com/videochat/groupcall/pkg/logger"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendBuffer     = 32
)

var ErrClosed = errors.New("websocket is closed")

type (
	WS struct {
		id     com.Uid
		conn   *deadlinedConn
		send   chan []byte
		server bool

		OnMessage MessageHandler

		pingPong  bool
		readLimit int64

		listen sync.Once
		once   sync.Once
		closed chan struct{}
		Done   chan struct{}

		log *logger.Logger
	}
	MessageHandler func(message []byte, err error)
	Option         func(ws *WS)
)

// WithPingPong keeps the connection alive with pings and drops it
// when pongs stop coming.
func WithPingPong(enabled bool) Option { return func(ws *WS) { ws.pingPong = enabled } }

// WithReadLimit sets the maximum size of a message in bytes.
func WithReadLimit(n int64) Option {
	return func(ws *WS) {
		if n > 0 {
			ws.readLimit = n
		}
	}
}

var DefaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// NewUpgrader makes an upgrader that accepts only the listed origins,
// no origins or * allow everything.
func NewUpgrader(origins ...string) *websocket.Upgrader {
	u := DefaultUpgrader
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowed = nil
			break
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(allowed) == 0 {
		u.CheckOrigin = func(*http.Request) bool { return true }
		return &u
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
	return &u
}

// NewServerWithConn wraps an upgraded connection.
// The pumps start with Listen.
func NewServerWithConn(conn *websocket.Conn, log *logger.Logger, opts ...Option) *WS {
	return newSocket(conn, true, log, opts...)
}

func NewClient(address url.URL, log *logger.Logger, opts ...Option) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log, opts...), nil
}

func newSocket(conn *websocket.Conn, server bool, log *logger.Logger, opts ...Option) *WS {
	id := com.NewUid()
	ws := &WS{
		id:        id,
		conn:      &deadlinedConn{sock: conn, wt: writeWait},
		send:      make(chan []byte, sendBuffer),
		server:    server,
		pingPong:  server,
		readLimit: maxMessageSize,
		closed:    make(chan struct{}),
		Done:      make(chan struct{}),
		log:       log.Extend(log.With().Str(logger.ConnField, id.Short())),
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

func (ws *WS) Id() com.Uid             { return ws.id }
func (ws *WS) IsServer() bool          { return ws.server }
func (ws *WS) Closed() <-chan struct{} { return ws.closed }

// Listen starts the read and write pumps, only once.
func (ws *WS) Listen() {
	ws.listen.Do(func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); ws.writer() }()
		go func() { defer wg.Done(); ws.reader() }()
		go func() {
			wg.Wait()
			close(ws.Done)
			ws.log.Debug().Msg("ws closed")
		}()
	})
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.Close()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(ws.readLimit)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongTime)) })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn().Err(err).Msg("ws read")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, serializes all websocket writes.
func (ws *WS) writer() {
	var tick <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() { _ = ws.conn.close() }()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				ws.log.Warn().Err(err).Msg("ws write")
				ws.Close()
				return
			}
		case <-tick:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				ws.log.Warn().Err(err).Msg("ws ping")
				ws.Close()
				return
			}
		case <-ws.closed:
			_ = ws.conn.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Write queues the message, it fails when the socket is closed.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.closed:
		return ErrClosed
	}
}

// Close stops the pumps, it is safe to call many times.
func (ws *WS) Close() {
	ws.once.Do(func() { close(ws.closed) })
}
