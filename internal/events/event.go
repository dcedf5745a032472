// Package events implements the execution event fan-out layer: per-target
// bounded history rings, replay-then-live subscriptions, heartbeats, and a
// retention sweeper.
package events

import "time"

// Type distinguishes events emitted by the route executor from activity
// events received from the surrounding workflow engine.
type Type string

const (
	TypeCamelNode   Type = "CAMEL_NODE"
	TypeCamundaTask Type = "CAMUNDA_TASK"
)

// Status is the per-step outcome of an event.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Event is one per-step telemetry record. Events are immutable after
// publish; clients reorder concurrent invocations using (RouteID, TaskID,
// Timestamp).
type Event struct {
	TaskID            string    `json:"taskId"`
	Type              Type      `json:"type"`
	NodeType          string    `json:"nodeType,omitempty"`
	RouteID           string    `json:"routeId,omitempty"`
	Status            Status    `json:"status"`
	Message           string    `json:"message,omitempty"`
	Result            any       `json:"result,omitempty"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"durationMs,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	ProcessInstanceID string    `json:"processInstanceId,omitempty"`
	ActivityID        string    `json:"activityId,omitempty"`
}

// targetID is the stream the event belongs to: the workflow process instance
// when present, otherwise the route.
func (e *Event) targetID() string {
	if e.ProcessInstanceID != "" {
		return e.ProcessInstanceID
	}
	return e.RouteID
}

// Frame names used on the push stream.
const (
	FrameActivity  = "activity"
	FrameTaskEvent = "task-event"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Frame is one named message delivered to a subscription.
type Frame struct {
	Name  string `json:"name"`
	Event *Event `json:"event,omitempty"`
	Data  string `json:"data,omitempty"`
}

// frameName maps an event to its stream frame name.
func frameName(e *Event) string {
	if e.Type == TypeCamundaTask {
		return FrameTaskEvent
	}
	return FrameActivity
}
