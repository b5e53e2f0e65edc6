package notify

import (
	"encoding/json"
	"time"

	"outpass/internal/leave"
)

// messagePrefix namespaces queue message types.
const messagePrefix = "leave."

// Payload is the queued form of a leave.Event. It carries everything the
// worker needs so delivery never reads the database.
type Payload struct {
	Event        leave.EventType `json:"event"`
	RequestID    string          `json:"request_id"`
	Kind         leave.Kind      `json:"kind"`
	Reason       string          `json:"reason"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	CurrentLevel leave.Level     `json:"current_level"`
	Decision     leave.Decision  `json:"decision"`
	IsExpired    bool            `json:"is_expired"`
	IssuedBy     string          `json:"issued_by,omitempty"`
	RejectedBy   string          `json:"rejected_by,omitempty"`
	Message      string          `json:"message,omitempty"`
	Student      StudentContact  `json:"student"`
	At           time.Time       `json:"at"`
}

// StudentContact is the addressing subset of a student.
type StudentContact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	ParentEmail string `json:"parent_email,omitempty"`
}

// NewPayload flattens an event.
func NewPayload(ev leave.Event, at time.Time) Payload {
	r := ev.Request
	return Payload{
		Event:        ev.Type,
		RequestID:    r.ID,
		Kind:         r.Kind,
		Reason:       r.Reason,
		WindowStart:  r.Window.Start,
		WindowEnd:    r.Window.End,
		CurrentLevel: r.CurrentLevel,
		Decision:     r.Decision,
		IsExpired:    r.IsExpired,
		IssuedBy:     r.IssuedBy,
		RejectedBy:   r.RejectedBy,
		Message:      r.Message,
		Student: StudentContact{
			ID:          ev.Student.ID,
			Name:        ev.Student.Name,
			Email:       ev.Student.Email,
			ParentEmail: ev.Student.ParentEmail,
		},
		At: at,
	}
}

func (p Payload) encode() ([]byte, error) { return json.Marshal(p) }

func decodePayload(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}
