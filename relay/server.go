// Package relay is a store-and-forward chat relay: members join named rooms and exchange
// unicast text frames. It stands in for the host's chat service, attributing every frame
// to the connection it arrived on.
package relay

import (
	"club-link/applog"
	"club-link/build"
	"club-link/protocol"
	"club-link/transport"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	requestTimeout  = 10 * time.Second
	maxFrameSize    = 1 << 20
	pongWait        = 60 * time.Second
	writeWait       = 10 * time.Second
	qrSize          = 320
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	MaxConnections int
	MailboxSize    int
	// RoomIdleTimeout removes rooms without members that saw no traffic for that long.
	RoomIdleTimeout time.Duration
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*chatRoom
}

func NewServer(cfg Config) *Server {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: make(map[string]*chatRoom),
	}
}

func (s *Server) Handler() http.Handler {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		applog.Error("Relay handler panicked", zap.Any("panic", i), zap.String("path", r.URL.Path))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}

	mux.GET("/healthz", s.serveHealthCheck)
	mux.GET("/version", s.serveVersion)
	mux.GET("/rooms/:room/ws", s.serveWebsocket)
	mux.GET("/rooms/:room/events", s.serveEvents)
	mux.POST("/rooms/:room/messages", s.servePostMessage)
	mux.GET("/rooms/:room/qr", s.serveQrCode)
	return mux
}

// Serve accepts connections on listener until ctx is done. At most MaxConnections are
// served at once when it is positive.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: requestTimeout,
		IdleTimeout:       10 * time.Minute,
	}

	if s.cfg.RoomIdleTimeout > 0 {
		go s.reaperLoop(ctx)
	}

	errs := make(chan error, 1)
	go func() {
		applog.Info("Relay listening", zap.String("addr", listener.Addr().String()))
		errs <- srv.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.mu.Lock()
	for _, room := range s.rooms {
		room.closeAll()
	}
	s.mu.Unlock()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) getRoom(name string) *chatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[name]; ok {
		return room
	}
	room := newChatRoom(name, s.cfg.MailboxSize)
	s.rooms[name] = room
	return room
}

func (s *Server) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RoomIdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdleRooms(time.Now().Add(-s.cfg.RoomIdleTimeout))
		}
	}
}

func (s *Server) reapIdleRooms(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, room := range s.rooms {
		last, empty := room.idleSince()
		if empty && last.Before(cutoff) {
			delete(s.rooms, name)
			applog.Debug("Removed idle chat room", zap.String("room", name))
		}
	}
}

func memberFromRequest(r *http.Request) (protocol.MemberId, error) {
	raw := r.URL.Query().Get("member")
	member, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || member <= 0 {
		return 0, fmt.Errorf("invalid member %q", raw)
	}
	return member, nil
}

func (s *Server) serveHealthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) serveVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("chat-relay " + build.Version + "\n"))
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	member, err := memberFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	room := s.getRoom(ps.ByName("room"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	sub := room.register(member)
	logger := applog.GetLogger().With(zap.String("room", room.name), zap.Int64("memberId", member))
	logger.Info("Member joined over websocket")

	go writePump(conn, sub)
	readPump(conn, room, sub)
	logger.Info("Member left")
}

func readPump(conn *websocket.Conn, room *chatRoom, sub *subscriber) {
	defer func() {
		room.unregister(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frame.Sender = sub.member
		room.deliver(frame)
	}
}

func writePump(conn *websocket.Conn, sub *subscriber) {
	defer conn.Close()

	for frame := range sub.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	member, err := memberFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	room := s.getRoom(ps.ByName("room"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := room.register(member)
	defer room.unregister(sub)
	applog.Info("Member joined over event stream", zap.String("room", room.name), zap.Int64("memberId", member))

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.send:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				applog.Error("Could not encode frame", zap.Error(err))
				continue
			}
			if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) servePostMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	member, err := memberFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	room := s.getRoom(ps.ByName("room"))

	if !room.isMember(member) {
		http.Error(w, "member is not connected to this room", http.StatusConflict)
		return
	}

	var frame transport.Frame
	if err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameSize)).Decode(&frame); err != nil {
		http.Error(w, "invalid frame", http.StatusBadRequest)
		return
	}
	frame.Sender = member
	room.deliver(frame)

	w.WriteHeader(http.StatusAccepted)
}

// serveQrCode renders the room's websocket address so a second player can join quickly.
func (s *Server) serveQrCode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		scheme = "wss"
	}

	roomURL := scheme + "://" + r.Host + "/rooms/" + ps.ByName("room") + "/ws"
	png, err := qrcode.Encode(roomURL, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
