package shared

import (
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	EventMembershipAdded   EventType = "membership.added"
	EventMembershipRemoved EventType = "membership.removed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int64     `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. Version is the aggregate version
// that the event was persisted with.
func NewBaseEvent(eventType EventType, aggregateID string, version int64) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     version,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Membership Events
// ═══════════════════════════════════════════════════════════════════════════

// MembershipAddedEvent is emitted after a user was added to a course.
type MembershipAddedEvent struct {
	BaseEvent
	CourseID int64 `json:"course_id"`
	UserID   int64 `json:"user_id"`
}

// Payload implements Event interface.
func (e MembershipAddedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id": e.CourseID,
		"user_id":   e.UserID,
	}
}

// NewMembershipAddedEvent creates a new MembershipAddedEvent.
func NewMembershipAddedEvent(courseID, userID, version int64) MembershipAddedEvent {
	return MembershipAddedEvent{
		BaseEvent: NewBaseEvent(EventMembershipAdded, strconv.FormatInt(courseID, 10), version),
		CourseID:  courseID,
		UserID:    userID,
	}
}

// MembershipRemovedEvent is emitted after a user's membership was removed.
type MembershipRemovedEvent struct {
	BaseEvent
	CourseID int64 `json:"course_id"`
	UserID   int64 `json:"user_id"`
}

// Payload implements Event interface.
func (e MembershipRemovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id": e.CourseID,
		"user_id":   e.UserID,
	}
}

// NewMembershipRemovedEvent creates a new MembershipRemovedEvent.
func NewMembershipRemovedEvent(courseID, userID, version int64) MembershipRemovedEvent {
	return MembershipRemovedEvent{
		BaseEvent: NewBaseEvent(EventMembershipRemoved, strconv.FormatInt(courseID, 10), version),
		CourseID:  courseID,
		UserID:    userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Ports
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler handles a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for domain events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
