package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/pkg/logger"
)

type EventType string

const (
	EventRegistrationStarted      EventType = "registration.started"
	EventRegistrationSucceeded    EventType = "registration.succeeded"
	EventRegistrationFailed       EventType = "registration.failed"
	EventAuthenticationStarted    EventType = "authentication.started"
	EventAuthenticationSucceeded  EventType = "authentication.succeeded"
	EventAuthenticationFailed     EventType = "authentication.failed"
	EventCounterAnomaly           EventType = "authentication.counter_anomaly"
	EventCredentialDeleted        EventType = "credential.deleted"
	EventRecoveryCodesRegenerated EventType = "recovery.codes_regenerated"
	EventRecoveryCodeUsed         EventType = "recovery.code_used"
	EventEmailRecoveryRequested   EventType = "recovery.email_requested"
	EventEmailRecoveryCompleted   EventType = "recovery.email_completed"
)

type Event struct {
	Type   EventType              `json:"type"`
	UserID *uuid.UUID             `json:"userID,omitempty"`
	Email  string                 `json:"email,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
	At     time.Time              `json:"at"`
}

type Listener func(Event)

// Events fans lifecycle events out to registered listeners, synchronously
// and in subscription order. Listener failures are isolated: a panic is
// recovered and logged, and never masks the result of the operation that
// emitted the event.
type Events struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

func (e *Events) Emit(event Event) {
	if e == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	e.mu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		dispatch(listener, event)
	}
}

func dispatch(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event_listener_panic", map[string]interface{}{
				"event": string(event.Type),
				"panic": r,
			})
		}
	}()
	listener(event)
}

// LogListener writes every lifecycle event to the structured log.
func LogListener(event Event) {
	fields := map[string]interface{}{}
	for key, value := range event.Fields {
		fields[key] = value
	}
	if event.UserID != nil {
		fields["user_id"] = event.UserID.String()
	}
	if event.Email != "" {
		fields["email"] = event.Email
	}
	logger.Info(string(event.Type), fields)
}
