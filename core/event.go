package core

import (
	"time"

	"github.com/google/uuid"
)

type IEvent interface {
	GetId() string // Returns the unique identifier of the event.
}

// EventPacket wraps an event with the bookkeeping needed to trace it through
// logs and the control plane.
type EventPacket struct {
	Event      IEvent
	SessionID  string
	Uid        string // Unique identifier for tracking the event packet.
	ReceivedAt time.Time
}

func NewEventPacket(event IEvent, sessionID string) *EventPacket {
	return &EventPacket{
		Event:      event,
		SessionID:  sessionID,
		Uid:        uuid.New().String(),
		ReceivedAt: time.Now(),
	}
}
