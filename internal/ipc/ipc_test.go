package ipc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leo/internal/logging"
)

type fakeController struct {
	mu      sync.Mutex
	index   int
	total   int
	active  bool
	paused  bool
	pressed []rune
	calls   []string
	autoErr error
}

func (f *fakeController) record(s string) {
	f.calls = append(f.calls, s)
}

func (f *fakeController) Status() StatusResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return StatusResponse{Index: f.index, Total: f.total, Active: f.active, Paused: f.paused, LessonName: "intro"}
}

func (f *fakeController) Advance(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("advance")
	f.index++
	return nil
}

func (f *fakeController) Press(_ context.Context, r rune) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed = append(f.pressed, r)
	f.index++
	return nil
}

func (f *fakeController) JumpTo(i int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = min(max(i, 0), f.total)
	return f.index
}

func (f *fakeController) StepForward() int  { return f.JumpTo(f.Status().Index + 1) }
func (f *fakeController) StepBackward() int { return f.JumpTo(f.Status().Index - 1) }
func (f *fakeController) ResetProgress()    { f.JumpTo(0) }

func (f *fakeController) ToggleActive(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = !f.active
	return f.active, nil
}

func (f *fakeController) StartAutoTyping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("auto")
	return f.autoErr
}

func (f *fakeController) StopAutoTyping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
}

func (f *fakeController) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
}

func (f *fakeController) ReloadLesson(context.Context) error {
	return ErrNoLessonLoaded
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	// unix socket paths are limited to ~100 bytes
	dir, err := os.MkdirTemp("", "leoipc")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startPair(t *testing.T, ctl Controller) (*Server, *IPCClient) {
	t.Helper()
	dir := shortTempDir(t)

	cfg := DefaultServerConfig(dir)
	cfg.Logger = logging.Discard()
	srv := NewServer(cfg, NewPresenterHandler(ctl, logging.Discard()))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	client := NewClient(DefaultClientConfig(dir))
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestHeaderRoundTrip(t *testing.T) {
	payload, err := Encode(&JumpRequest{Index: 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg := NewMessage(MsgJump, 7, payload)

	var buf bytes.Buffer
	if err := msg.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != HeaderSize+len(payload) {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), HeaderSize+len(payload))
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Header.Type != MsgJump || got.Header.RequestID != 7 {
		t.Errorf("header = %+v", got.Header)
	}
	var req JumpRequest
	if err := Decode(got.Payload, &req); err != nil || req.Index != 42 {
		t.Errorf("payload = %+v, err %v", req, err)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader(make([]byte, HeaderSize))
	if _, err := ReadHeader(buf); err == nil {
		t.Error("expected invalid magic error")
	}
}

func TestStatusAndCommands(t *testing.T) {
	ctl := &fakeController{total: 10}
	_, client := startPair(t, ctl)

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if client.Permission() != PermControl {
		t.Errorf("permission = %d, want control", client.Permission())
	}
	if client.ServerVersion() != "dev" || client.SessionID() == "" {
		t.Errorf("handshake: version %q, session %q", client.ServerVersion(), client.SessionID())
	}

	resp, err := client.Command(MsgAdvance)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if resp.Index != 1 || resp.Total != 10 {
		t.Errorf("advance response = %+v", resp)
	}

	if resp, err = client.Jump(20); err != nil || resp.Index != 10 {
		t.Errorf("jump = %+v, %v", resp, err)
	}
	if resp, err = client.Command(MsgStepBackward); err != nil || resp.Index != 9 {
		t.Errorf("back = %+v, %v", resp, err)
	}
	if resp, err = client.Command(MsgToggleActive); err != nil || !resp.Active {
		t.Errorf("toggle = %+v, %v", resp, err)
	}
	if _, err = client.Command(MsgPause); err != nil {
		t.Fatalf("pause: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Paused || status.LessonName != "intro" || status.Index != 9 {
		t.Errorf("status = %+v", status)
	}
}

func TestPressValidatesKey(t *testing.T) {
	ctl := &fakeController{total: 5}
	_, client := startPair(t, ctl)

	if _, err := client.Press("é"); err != nil {
		t.Fatalf("Press: %v", err)
	}
	_, err := client.Press("ab")
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != ErrInvalidRequest {
		t.Errorf("Press(ab) = %v, want invalid request", err)
	}
	if len(ctl.pressed) != 1 || ctl.pressed[0] != 'é' {
		t.Errorf("pressed = %q", ctl.pressed)
	}
}

func TestControllerErrorsMapToCodes(t *testing.T) {
	ctl := &fakeController{total: 5, autoErr: ErrCommandBusy}
	_, client := startPair(t, ctl)

	_, err := client.Command(MsgStartAutoType)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != ErrBusy {
		t.Errorf("auto = %v, want busy", err)
	}

	_, err = client.Command(MsgReloadLesson)
	if !errors.As(err, &re) || re.Code != ErrNoLesson {
		t.Errorf("reload = %v, want no lesson", err)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	srv, client := startPair(t, &fakeController{})

	if err := client.Subscribe([]EventType{EventCursor}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	srv.Broadcast(&Event{Type: EventActive, Active: true})
	srv.Broadcast(&Event{Type: EventCursor, Index: 3, Total: 8})

	select {
	case ev := <-client.Events():
		if ev.Type != EventCursor || ev.Index != 3 || ev.Total != 8 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestConnectWithoutServer(t *testing.T) {
	client := NewClient(DefaultClientConfig(shortTempDir(t)))
	if err := client.Connect(); !errors.Is(err, ErrPresenterNotFound) {
		t.Errorf("Connect = %v, want ErrPresenterNotFound", err)
	}
}

func TestSecondServerRefused(t *testing.T) {
	srv, _ := startPair(t, &fakeController{})

	cfg := DefaultServerConfig(filepath.Dir(srv.SocketPath()))
	cfg.Logger = logging.Discard()
	other := NewServer(cfg, nil)
	if err := other.Start(); err == nil {
		other.Stop()
		t.Fatal("second server started on a live socket")
	}
}

func TestEventTypeNames(t *testing.T) {
	cases := map[EventType]string{
		EventAutoTypeDone: "auto-type-done",
		EventShutdown:     "shutdown",
		EventType(0xff):   "event-0x00ff",
	}
	for ev, want := range cases {
		if got := ev.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", uint16(ev), got, want)
		}
	}
}
