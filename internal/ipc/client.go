package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	ErrNotConnected      = errors.New("not connected to presenter")
	ErrConnectionLost    = errors.New("connection to presenter lost")
	ErrTimeout           = errors.New("request timeout")
	ErrPresenterNotFound = errors.New("presenter is not running")
)

// IPCClient talks to a running presenter. Requests are matched to
// responses by request ID so events may interleave with them.
type IPCClient struct {
	cfg ClientConfig

	mu         sync.RWMutex
	conn       net.Conn
	sessionID  string
	server     string
	permission PermissionLevel
	connected  atomic.Bool

	waitMu  sync.Mutex
	waiters map[uint32]chan *Message
	seq     atomic.Uint32

	events     chan *Event
	eventsDone sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig looks for the socket in dataDir.
func DefaultClientConfig(dataDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(dataDir, "leo.sock"),
		ClientName:     "leoctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// NewClient creates a client. Call Connect before any request.
func NewClient(cfg ClientConfig) *IPCClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		cfg:     cfg,
		waiters: make(map[uint32]chan *Message),
		events:  make(chan *Event, eventBacklog),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect dials the presenter and performs the handshake. It returns
// ErrPresenterNotFound when nothing listens on the socket.
func (c *IPCClient) Connect() error {
	if c.connected.Load() {
		return nil
	}

	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.Dial("unix", c.cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrPresenterNotFound
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	ack, err := call[HandshakeResponse](c, MsgHandshake, MsgHandshakeAck, &HandshakeRequest{
		ClientVersion:   c.cfg.ClientVersion,
		ClientName:      c.cfg.ClientName,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		c.disconnect()
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.server = ack.ServerVersion
	c.permission = ack.Permission
	c.mu.Unlock()
	return nil
}

// Close drops the connection and closes the event channel.
func (c *IPCClient) Close() error {
	c.cancel()
	c.disconnect()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	c.closeEvents()
	return nil
}

func (c *IPCClient) closeEvents() {
	c.eventsDone.Do(func() { close(c.events) })
}

// disconnect closes the socket and fails every outstanding request.
func (c *IPCClient) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.waitMu.Lock()
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
	c.waitMu.Unlock()
}

func (c *IPCClient) IsConnected() bool { return c.connected.Load() }

// SessionID is the ID the presenter assigned in the handshake.
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion is the presenter build reported in the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Permission returns the access level granted by the presenter.
func (c *IPCClient) Permission() PermissionLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.permission
}

// Events delivers subscribed events. The channel closes when the
// connection ends. Events are dropped while the reader lags.
func (c *IPCClient) Events() <-chan *Event {
	return c.events
}

func (c *IPCClient) roundTrip(t MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	id := c.seq.Add(1)
	reply := make(chan *Message, 1)
	c.waitMu.Lock()
	c.waiters[id] = reply
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, id)
		c.waitMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := NewMessage(t, id, data).Write(conn); err != nil {
		c.disconnect()
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// call sends a request and decodes a response of type want into T.
func call[T any](c *IPCClient, t, want MessageType, payload any) (*T, error) {
	resp, err := c.roundTrip(t, payload, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if err := expect(resp, want); err != nil {
		return nil, err
	}
	out := new(T)
	if err := Decode(resp.Payload, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", want, err)
	}
	return out, nil
}

func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer c.closeEvents()

	for c.ctx.Err() == nil {
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() == nil {
				c.disconnect()
			}
			return
		}

		switch msg.Header.Type {
		case MsgPong:
		case MsgPing:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			NewMessage(MsgPong, msg.Header.RequestID, nil).Write(conn)
		case MsgEvent:
			var ev Event
			if Decode(msg.Payload, &ev) != nil {
				continue
			}
			select {
			case c.events <- &ev:
			default:
			}
		default:
			c.waitMu.Lock()
			if ch, ok := c.waiters[msg.Header.RequestID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			c.waitMu.Unlock()
		}
	}
}

// expect turns MsgError responses into a RemoteError and rejects any
// other unexpected type.
func expect(resp *Message, want MessageType) error {
	if resp.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(resp.Payload, &e); err != nil {
			return fmt.Errorf("undecodable error response: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}
	return nil
}

// Ping checks that the presenter answers.
func (c *IPCClient) Ping() error {
	resp, err := c.roundTrip(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	return expect(resp, MsgPong)
}

// Status returns the presenter state.
func (c *IPCClient) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, MsgStatusRequest, MsgStatusResponse, nil)
}

// Command sends a cursor or mode command that takes no arguments.
func (c *IPCClient) Command(t MessageType) (*CommandResponse, error) {
	return call[CommandResponse](c, t, MsgCommandResp, nil)
}

// Jump moves the cursor to index.
func (c *IPCClient) Jump(index int) (*CommandResponse, error) {
	return call[CommandResponse](c, MsgJump, MsgCommandResp, &JumpRequest{Index: index})
}

// Press simulates a typing hotkey.
func (c *IPCClient) Press(key string) (*CommandResponse, error) {
	return call[CommandResponse](c, MsgPress, MsgCommandResp, &PressRequest{Key: key})
}

// Subscribe asks for events of the given types, or all of them when
// events is empty. They arrive on Events.
func (c *IPCClient) Subscribe(events []EventType) error {
	resp, err := call[SubscribeResponse](c, MsgSubscribe, MsgSubscribeResp, &SubscribeRequest{Events: events})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe stops event delivery.
func (c *IPCClient) Unsubscribe() error {
	resp, err := c.roundTrip(MsgUnsubscribe, nil, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	return expect(resp, MsgUnsubscribeResp)
}
