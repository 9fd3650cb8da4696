package ipc

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"leo/internal/logging"
)

// ErrNoLessonLoaded is returned by a Controller when a command needs a
// lesson and none is loaded.
var ErrNoLessonLoaded = errors.New("no lesson loaded")

// ErrCommandBusy is returned by a Controller when a command conflicts with
// work in progress, such as an auto-type run.
var ErrCommandBusy = errors.New("presenter busy")

// Controller is the presenter surface the IPC handler drives.
type Controller interface {
	Status() StatusResponse
	Advance(ctx context.Context) error
	Press(ctx context.Context, key rune) error
	JumpTo(index int) int
	StepForward() int
	StepBackward() int
	ResetProgress()
	ToggleActive(ctx context.Context) (bool, error)
	StartAutoTyping(ctx context.Context) error
	StopAutoTyping()
	SetPaused(paused bool)
	ReloadLesson(ctx context.Context) error
}

// PresenterHandler implements Handler on top of a Controller.
type PresenterHandler struct {
	ctl Controller
	log *logging.Logger
}

// NewPresenterHandler creates the handler.
func NewPresenterHandler(ctl Controller, log *logging.Logger) *PresenterHandler {
	if log == nil {
		log = logging.Component("ipc")
	}
	return &PresenterHandler{ctl: ctl, log: log}
}

// HandleMessage processes an IPC message
func (h *PresenterHandler) HandleMessage(ctx context.Context, sess *Session, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	h.log.Debug("ipc command", "type", msg.Header.Type, "client", sess.ID)

	switch msg.Header.Type {
	case MsgStatusRequest:
		status := h.ctl.Status()
		return NewResponse(MsgStatusResponse, id, &status)

	case MsgAdvance:
		return h.command(id, h.ctl.Advance(ctx))

	case MsgPress:
		var req PressRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, "invalid press request"), nil
		}
		r, size := utf8.DecodeRuneInString(req.Key)
		if r == utf8.RuneError || size != len(req.Key) {
			return NewErrorMessage(id, ErrInvalidRequest, fmt.Sprintf("key must be one character, got %q", req.Key)), nil
		}
		return h.command(id, h.ctl.Press(ctx, r))

	case MsgJump:
		var req JumpRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, "invalid jump request"), nil
		}
		h.ctl.JumpTo(req.Index)
		return h.command(id, nil)

	case MsgStepForward:
		h.ctl.StepForward()
		return h.command(id, nil)

	case MsgStepBackward:
		h.ctl.StepBackward()
		return h.command(id, nil)

	case MsgResetProgress:
		h.ctl.ResetProgress()
		return h.command(id, nil)

	case MsgToggleActive:
		_, err := h.ctl.ToggleActive(ctx)
		return h.command(id, err)

	case MsgStartAutoType:
		return h.command(id, h.ctl.StartAutoTyping(ctx))

	case MsgStopAutoType:
		h.ctl.StopAutoTyping()
		return h.command(id, nil)

	case MsgPause:
		h.ctl.SetPaused(true)
		return h.command(id, nil)

	case MsgResume:
		h.ctl.SetPaused(false)
		return h.command(id, nil)

	case MsgReloadLesson:
		return h.command(id, h.ctl.ReloadLesson(ctx))
	}

	return NewErrorMessage(id, ErrInvalidRequest, fmt.Sprintf("unknown message type %s", msg.Header.Type)), nil
}

func (h *PresenterHandler) command(id uint32, err error) (*Message, error) {
	switch {
	case errors.Is(err, ErrNoLessonLoaded):
		return NewErrorMessage(id, ErrNoLesson, err.Error()), nil
	case errors.Is(err, ErrCommandBusy):
		return NewErrorMessage(id, ErrBusy, err.Error()), nil
	case err != nil:
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}

	st := h.ctl.Status()
	return NewResponse(MsgCommandResp, id, &CommandResponse{
		Success: true,
		Index:   st.Index,
		Total:   st.Total,
		Active:  st.Active,
	})
}
