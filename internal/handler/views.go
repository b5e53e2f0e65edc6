package handler

import (
	"time"

	"outpass/internal/leave"
)

type requestView struct {
	ID           string                `json:"id"`
	StudentID    string                `json:"student_id"`
	Kind         leave.Kind            `json:"kind"`
	Reason       string                `json:"reason"`
	Start        time.Time             `json:"start"`
	End          time.Time             `json:"end"`
	ExpiresAt    time.Time             `json:"expires_at"`
	CurrentLevel leave.Level           `json:"current_level"`
	Decision     leave.Decision        `json:"decision"`
	IsExpired    bool                  `json:"is_expired"`
	ApprovalLog  []leave.ApprovalEntry `json:"approval_log"`
	IssuedBy     string                `json:"issued_by,omitempty"`
	IssuedTime   *time.Time            `json:"issued_time,omitempty"`
	RejectedBy   string                `json:"rejected_by,omitempty"`
	RejectedTime *time.Time            `json:"rejected_time,omitempty"`
	Message      string                `json:"message,omitempty"`
	InTime       *time.Time            `json:"in_time,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func viewRequest(r leave.Request) requestView {
	log := r.ApprovalLog
	if log == nil {
		log = []leave.ApprovalEntry{}
	}
	return requestView{
		ID:           r.ID,
		StudentID:    r.StudentID,
		Kind:         r.Kind,
		Reason:       r.Reason,
		Start:        r.Window.Start,
		End:          r.Window.End,
		ExpiresAt:    r.ExpiresAt,
		CurrentLevel: r.CurrentLevel,
		Decision:     r.Decision,
		IsExpired:    r.IsExpired,
		ApprovalLog:  log,
		IssuedBy:     r.IssuedBy,
		IssuedTime:   r.IssuedTime,
		RejectedBy:   r.RejectedBy,
		RejectedTime: r.RejectedTime,
		Message:      r.Message,
		InTime:       r.InTime,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func viewRequests(rs []leave.Request) []requestView {
	out := make([]requestView, len(rs))
	for i, r := range rs {
		out[i] = viewRequest(r)
	}
	return out
}

type studentView struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email,omitempty"`
	ParentEmail          string    `json:"parent_email,omitempty"`
	IsPresentInCampus    bool      `json:"is_present_in_campus"`
	IsApplicationPending bool      `json:"is_application_pending"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func viewStudent(s leave.Student) studentView {
	return studentView{
		ID:                   s.ID,
		Name:                 s.Name,
		Email:                s.Email,
		ParentEmail:          s.ParentEmail,
		IsPresentInCampus:    s.IsPresentInCampus,
		IsApplicationPending: s.IsApplicationPending,
		UpdatedAt:            s.UpdatedAt,
	}
}
