package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"leo/internal/logging"
)

// Handler answers presenter commands. Protocol housekeeping (ping,
// handshake, subscriptions) never reaches it.
type Handler interface {
	HandleMessage(ctx context.Context, s *Session, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *Session, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, s *Session, msg *Message) (*Message, error) {
	return f(ctx, s, msg)
}

// Session is one connected controller.
type Session struct {
	ID          string
	Permission  PermissionLevel
	ConnectedAt time.Time

	conn    net.Conn
	writeMu sync.Mutex

	mu           sync.Mutex
	name         string
	version      string
	lastActivity time.Time
	events       map[EventType]bool
}

// Name is the client name sent in the handshake.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) wants(t EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[t]
}

func (s *Session) subscribe(events []EventType) {
	set := make(map[EventType]bool, len(events))
	for _, t := range events {
		set[t] = true
	}
	s.mu.Lock()
	s.events = set
	s.mu.Unlock()
}

func (s *Session) send(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return msg.Write(s.conn)
}

const (
	writeTimeout = 10 * time.Second
	stopTimeout  = 5 * time.Second
	eventBacklog = 100
)

// Server accepts controller connections on a unix socket, answers
// commands through a Handler and fans presenter events out to
// subscribed sessions.
type Server struct {
	cfg     ServerConfig
	handler Handler
	log     *logging.Logger

	listener  net.Listener
	startedAt time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	seq     atomic.Uint32
	events  chan *Event
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	IdleTimeout    time.Duration
	MaxConnections int

	// VerifyPeer rejects connections from other users where the
	// platform reports peer credentials.
	VerifyPeer bool

	Logger *logging.Logger
}

// DefaultServerConfig places the socket in dataDir.
func DefaultServerConfig(dataDir string) ServerConfig {
	return ServerConfig{
		SocketPath:     filepath.Join(dataDir, "leo.sock"),
		Version:        "dev",
		IdleTimeout:    60 * time.Second,
		MaxConnections: 16,
		VerifyPeer:     true,
	}
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("ipc")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handler:  handler,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan *Event, eventBacklog),
	}
}

// Start listens on the socket. It fails when another presenter already
// answers there; a stale socket file is replaced.
func (s *Server) Start() error {
	path := s.cfg.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(path) {
		return fmt.Errorf("presenter already running on %s", path)
	}
	if err := CleanupSocket(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := SetSocketPermissions(path, 0600); err != nil {
		l.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = l
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.fanOut()
	go s.acceptLoop()

	s.log.Info("ipc listening", "socket", path)
	return nil
}

// Stop closes the listener and every session, then removes the socket.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	close(s.events)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn("ipc shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

// StartedAt returns when the server started listening.
func (s *Server) StartedAt() time.Time { return s.startedAt }

// ClientCount returns the number of open sessions.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Broadcast queues an event for subscribed sessions. Events are dropped
// when the queue is full or the server has stopped.
func (s *Server) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	// the read lock keeps Stop from closing the queue under us
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return
	}
	select {
	case s.events <- event:
	default:
		s.log.Warn("ipc event dropped, queue full", "type", event.Type)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		sess, ok := s.admit(conn)
		if !ok {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serve(sess)
	}
}

// admit decides the permission for a new connection and registers it.
func (s *Server) admit(conn net.Conn) (*Session, bool) {
	perm := PermControl
	if s.cfg.VerifyPeer {
		same, err := VerifyPeerIsCurrentUser(conn)
		switch {
		case errors.Is(err, ErrPeerCredentialsUnsupported):
			// socket mode 0600 already restricts access
		case err != nil:
			s.log.Warn("peer credentials unavailable, read-only", "error", err)
			perm = PermReadOnly
		case !same:
			s.log.Warn("rejecting connection from another user")
			return nil, false
		}
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Permission:   perm,
		ConnectedAt:  now,
		conn:         conn,
		lastActivity: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.cfg.MaxConnections {
		s.log.Warn("too many ipc clients", "max", s.cfg.MaxConnections)
		return nil, false
	}
	s.sessions[sess.ID] = sess
	return sess, true
}

func (s *Server) serve(sess *Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		sess.conn.Close()
		s.log.Debug("ipc client disconnected", "client", sess.ID)
	}()

	for s.ctx.Err() == nil {
		sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		msg, err := ReadMessage(sess.conn)
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return
			case errors.As(err, &ne) && ne.Timeout():
				// idle: probe the peer, a dead one fails the write
				if sess.send(NewMessage(MsgPing, s.seq.Add(1), nil)) != nil {
					return
				}
				continue
			default:
				s.log.Debug("ipc read failed", "client", sess.ID, "error", err)
				return
			}
		}
		sess.touch()

		resp, err := s.dispatch(sess, msg)
		if err != nil {
			s.log.Warn("ipc command failed", "type", msg.Header.Type, "error", err)
			resp = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if resp != nil && sess.send(resp) != nil {
			return
		}
	}
}

func (s *Server) dispatch(sess *Session, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handshake(sess, msg)
	case MsgSubscribe:
		var req SubscribeRequest
		if len(msg.Payload) > 0 {
			if err := Decode(msg.Payload, &req); err != nil {
				return NewErrorMessage(id, ErrInvalidRequest, "invalid subscribe request"), nil
			}
		}
		if len(req.Events) == 0 {
			req.Events = AllEvents
		}
		sess.subscribe(req.Events)
		return NewResponse(MsgSubscribeResp, id, &SubscribeResponse{Success: true, SubscriptionID: sess.ID})
	case MsgUnsubscribe:
		sess.subscribe(nil)
		return NewMessage(MsgUnsubscribeResp, id, nil), nil
	}

	if msg.Header.Type != MsgStatusRequest && sess.Permission < PermControl {
		return NewErrorMessage(id, ErrPermissionDenied, "read-only client"), nil
	}
	if s.handler == nil {
		return NewErrorMessage(id, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, sess, msg)
}

func (s *Server) handshake(sess *Session, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	sess.mu.Lock()
	sess.name = req.ClientName
	sess.version = req.ClientVersion
	sess.mu.Unlock()
	s.log.Debug("ipc client connected", "client", sess.ID, "name", req.ClientName)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.cfg.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       sess.ID,
		Permission:      sess.Permission,
	})
}

// fanOut delivers queued events in order. A stuck session delays the
// others by at most the write timeout.
func (s *Server) fanOut() {
	defer s.wg.Done()
	for event := range s.events {
		payload, err := Encode(event)
		if err != nil {
			s.log.Warn("failed to encode event", "error", err)
			continue
		}

		s.mu.RLock()
		var targets []*Session
		for _, sess := range s.sessions {
			if sess.wants(event.Type) {
				targets = append(targets, sess)
			}
		}
		s.mu.RUnlock()

		for _, sess := range targets {
			if err := sess.send(NewMessage(MsgEvent, s.seq.Add(1), payload)); err != nil {
				s.log.Debug("event delivery failed", "client", sess.ID, "error", err)
			}
		}
	}
}
