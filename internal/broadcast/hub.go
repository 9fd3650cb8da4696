package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"leo/internal/lesson"
	"leo/internal/logging"
	"leo/internal/steps"
)

const clientBuffer = 32

// Client is one connected student.
type Client struct {
	ID       uuid.UUID
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
}

// Done is closed when the hub drops the client.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub holds the broadcast state and fans messages out to clients.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	state   State
	clients map[*Client]bool
	relay   func(context.Context, Message) error

	handlerMu sync.RWMutex
	handler   func(ClientMessage)
}

// NewHub creates a hub with the empty initial state.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Component("broadcast")
	}
	return &Hub{
		log:     log,
		state:   State{LessonName: NoLesson},
		clients: make(map[*Client]bool),
	}
}

// OnClientMessage sets the handler for student requests.
func (h *Hub) OnClientMessage(fn func(ClientMessage)) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = fn
}

// SetRelay sets a function every outgoing message is also passed to,
// such as a Redis publisher.
func (h *Hub) SetRelay(fn func(context.Context, Message) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = fn
}

// HandleClientMessage dispatches a student request.
func (h *Hub) HandleClientMessage(m ClientMessage) bool {
	h.handlerMu.RLock()
	fn := h.handler
	h.handlerMu.RUnlock()
	if fn == nil {
		h.log.Debug("client message without handler", "type", m.Type)
		return false
	}
	fn(m)
	return true
}

// Connect registers a new client. Its first message is the full state.
func (h *Hub) Connect() (*Client, error) {
	c := &Client{
		ID:       uuid.New(),
		Outbound: make(chan Message, clientBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	msg, err := NewMessage(TypeState, h.state)
	if err != nil {
		return nil, err
	}
	c.Outbound <- msg
	h.clients[c] = true
	h.log.Info("student connected", "client", c.ID, "clients", len(h.clients))
	return c, nil
}

// Disconnect removes a client.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	c.close()
	h.log.Info("student disconnected", "client", c.ID, "clients", len(h.clients))
}

// ClientCount returns the number of connected students.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// State returns a copy of the current state.
func (h *Hub) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// update applies fn to the state and sends the resulting message while
// holding the lock, so clients see updates in state order.
func (h *Hub) update(ctx context.Context, typ string, data any, fn func(*State)) error {
	msg, err := NewMessage(typ, data)
	if err != nil {
		return err
	}
	return h.apply(ctx, msg, fn, true)
}

func (h *Hub) apply(ctx context.Context, msg Message, fn func(*State), relay bool) error {
	h.mu.Lock()
	fn(&h.state)
	for c := range h.clients {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping message, client buffer full", "client", c.ID, "type", msg.Type)
		}
	}
	rel := h.relay
	h.mu.Unlock()

	if relay && rel != nil {
		if err := rel(ctx, msg); err != nil {
			return fmt.Errorf("relay %s message: %w", msg.Type, err)
		}
	}
	return nil
}

// UpdateCursor publishes the current step.
func (h *Hub) UpdateCursor(ctx context.Context, index int) error {
	return h.update(ctx, TypeCursor, CursorData{CurrentStep: index}, func(s *State) {
		s.CurrentStep = index
	})
}

// UpdateProgress publishes the consumed share.
func (h *Hub) UpdateProgress(ctx context.Context, index, total int) error {
	d := ProgressData{Progress: steps.Progress(index, total), CurrentStep: index, TotalSteps: total}
	return h.update(ctx, TypeProgress, d, func(s *State) {
		s.Progress = d.Progress
		s.CurrentStep = index
		s.TotalSteps = total
	})
}

// UpdateActiveState publishes the typing-mode flag.
func (h *Hub) UpdateActiveState(ctx context.Context, active bool) error {
	return h.update(ctx, TypeActive, ActiveData{IsActive: active}, func(s *State) {
		s.IsActive = active
	})
}

// UpdateTimer publishes the remaining presentation time in seconds.
func (h *Hub) UpdateTimer(ctx context.Context, seconds int) error {
	return h.update(ctx, TypeTimer, TimerData{TimeRemaining: &seconds}, func(s *State) {
		s.TimeRemaining = &seconds
	})
}

// ClearTimer publishes that no timer is running.
func (h *Hub) ClearTimer(ctx context.Context) error {
	return h.update(ctx, TypeTimer, TimerData{}, func(s *State) {
		s.TimeRemaining = nil
	})
}

// UpdateLessonName publishes the lesson title.
func (h *Hub) UpdateLessonName(ctx context.Context, name string) error {
	if name == "" {
		name = NoLesson
	}
	return h.update(ctx, TypeLesson, LessonNameData{LessonName: name}, func(s *State) {
		s.LessonName = name
	})
}

// UpdateLessonData publishes the lesson content.
func (h *Hub) UpdateLessonData(ctx context.Context, blocks []lesson.Block) error {
	data, err := NewLessonData(blocks)
	if err != nil {
		return fmt.Errorf("render lesson: %w", err)
	}
	return h.update(ctx, TypeLessonData, data, func(s *State) {
		s.LessonData = data
	})
}

// UpdateSettings publishes presenter settings.
func (h *Hub) UpdateSettings(ctx context.Context, settings any) error {
	return h.update(ctx, TypeSettings, settings, func(s *State) {
		s.Settings = settings
	})
}

// Deliver applies a message received from another instance. It is not
// relayed again.
func (h *Hub) Deliver(msg Message) error {
	fn, err := stateUpdater(msg)
	if err != nil {
		return err
	}
	return h.apply(context.Background(), msg, fn, false)
}

func stateUpdater(msg Message) (func(*State), error) {
	decode := func(v any) error {
		if err := json.Unmarshal(msg.Data, v); err != nil {
			return fmt.Errorf("decode %s message: %w", msg.Type, err)
		}
		return nil
	}

	switch msg.Type {
	case TypeState:
		var st State
		if err := decode(&st); err != nil {
			return nil, err
		}
		return func(s *State) { *s = st }, nil
	case TypeCursor:
		var d CursorData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.CurrentStep = d.CurrentStep }, nil
	case TypeProgress:
		var d ProgressData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) {
			s.Progress = d.Progress
			s.CurrentStep = d.CurrentStep
			s.TotalSteps = d.TotalSteps
		}, nil
	case TypeActive:
		var d ActiveData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.IsActive = d.IsActive }, nil
	case TypeTimer:
		var d TimerData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.TimeRemaining = d.TimeRemaining }, nil
	case TypeLesson:
		var d LessonNameData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.LessonName = d.LessonName }, nil
	case TypeLessonData:
		var d LessonData
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.LessonData = &d }, nil
	case TypeSettings:
		var d any
		if err := decode(&d); err != nil {
			return nil, err
		}
		return func(s *State) { s.Settings = d }, nil
	}
	return nil, fmt.Errorf("unknown message type %q", msg.Type)
}
