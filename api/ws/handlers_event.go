package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Resumer is the part of the event host a stream client may drive.
type Resumer interface {
	ResumeMessage(eventID int) bool
	ResumeChoice(eventID, index int) bool
	ResumeMovement(eventID int) bool
}

var errNotWaiting = errors.New("event is not waiting")

type resumeRequest struct {
	EventID int  `json:"event_id"`
	Index   *int `json:"index,omitempty"`
}

type ackPayload struct {
	For     string `json:"for"`
	EventID int    `json:"event_id"`
}

// EventHandlers answers the message, choice and movement waits of running events.
type EventHandlers struct {
	host Resumer
}

// NewEventHandlers creates EventHandlers on host.
func NewEventHandlers(host Resumer) *EventHandlers {
	return &EventHandlers{host: host}
}

// RegisterHandlers registers every packet type on r.
func (h *EventHandlers) RegisterHandlers(r *Router) {
	r.On("ping", h.handlePing)
	r.On("resume_message", h.resume("resume_message", func(req resumeRequest) bool {
		return h.host.ResumeMessage(req.EventID)
	}))
	r.On("resume_choice", h.handleChoice)
	r.On("resume_movement", h.resume("resume_movement", func(req resumeRequest) bool {
		return h.host.ResumeMovement(req.EventID)
	}))
}

func (h *EventHandlers) handlePing(_ context.Context, s *Session, _ json.RawMessage) error {
	s.Send("pong", map[string]int64{"ts": time.Now().UnixMilli()})
	return nil
}

func decodeResume(raw json.RawMessage) (resumeRequest, error) {
	var req resumeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("bad payload: %w", err)
	}
	if req.EventID <= 0 {
		return req, errors.New("event_id is required")
	}
	return req, nil
}

func (h *EventHandlers) resume(typ string, do func(resumeRequest) bool) HandlerFunc {
	return func(_ context.Context, s *Session, raw json.RawMessage) error {
		req, err := decodeResume(raw)
		if err != nil {
			return err
		}
		if !do(req) {
			return fmt.Errorf("%w: %d", errNotWaiting, req.EventID)
		}
		s.Send("ack", ackPayload{For: typ, EventID: req.EventID})
		return nil
	}
}

func (h *EventHandlers) handleChoice(ctx context.Context, s *Session, raw json.RawMessage) error {
	req, err := decodeResume(raw)
	if err != nil {
		return err
	}
	if req.Index == nil {
		return errors.New("index is required")
	}
	return h.resume("resume_choice", func(r resumeRequest) bool {
		return h.host.ResumeChoice(r.EventID, *r.Index)
	})(ctx, s, raw)
}
