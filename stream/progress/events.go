package progress

import "time"

type EventType string

const (
	EventProgressUpdated  EventType = "progress_updated"
	EventSectionCompleted EventType = "section_completed"
	EventCourseCompleted  EventType = "course_completed"
	EventAnalyticsUpdated EventType = "analytics_updated"
	EventSyncStarted      EventType = "sync_started"
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
)

// Payload is implemented by the payload of each event type.
type Payload interface {
	eventType() EventType
}

type ProgressUpdated struct {
	CompletionRate float64 `json:"completionRate"`
	PreviousRate   float64 `json:"previousRate"`
}

type SectionCompleted struct {
	CompletedSection int `json:"completedSection"`
	CurrentSection   int `json:"currentSection"`
}

type CourseCompleted struct {
	CompletedAt time.Time `json:"completedAt"`
}

type AnalyticsUpdated struct {
	Analytics Analytics `json:"analytics"`
}

type SyncStarted struct {
	Operations int `json:"operations"`
}

type SyncCompleted struct {
	Operations int           `json:"operations"`
	Duration   time.Duration `json:"duration"`
}

// SyncFailed carries only the first error of the drain.
type SyncFailed struct {
	Operations int    `json:"operations"`
	Error      string `json:"error"`
	Err        error  `json:"-"`
}

func (ProgressUpdated) eventType() EventType  { return EventProgressUpdated }
func (SectionCompleted) eventType() EventType { return EventSectionCompleted }
func (CourseCompleted) eventType() EventType  { return EventCourseCompleted }
func (AnalyticsUpdated) eventType() EventType { return EventAnalyticsUpdated }
func (SyncStarted) eventType() EventType      { return EventSyncStarted }
func (SyncCompleted) eventType() EventType    { return EventSyncCompleted }
func (SyncFailed) eventType() EventType       { return EventSyncFailed }

// Event is one entry of the manager's event stream.
type Event struct {
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	CourseID  string    `json:"courseId,omitempty"`
}

// Listener is called synchronously, possibly from a background goroutine.
type Listener func(Event)

type subscriber struct {
	id int
	fn Listener
}
