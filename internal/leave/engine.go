package leave

import (
	"fmt"
	"strings"
	"time"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventCreated   EventType = "created"
	EventForwarded EventType = "forwarded"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
)

// Policy holds the deployment-specific rules of the lifecycle engine.
// The zero value is the strict policy evaluated in UTC.
type Policy struct {
	// FinalApprovalAnyLevel lets the approver at any level grant final approval.
	// When false only the last level (dsw) may approve.
	FinalApprovalAnyLevel bool
	// Location is the campus time zone used for Outpass dates.
	Location *time.Location
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p Policy) midnight(t time.Time) time.Time {
	t = t.In(p.location())
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.location())
}

// NormalizeWindow validates a window for kind against now and returns it
// together with the instant after which the request counts as expired.
func (p Policy) NormalizeWindow(kind Kind, w Window, now time.Time) (Window, time.Time, error) {
	if w.Start.IsZero() || w.End.IsZero() {
		return Window{}, time.Time{}, newError(ErrInvalidWindow, "window start and end are required")
	}
	switch kind {
	case KindOutpass:
		w = Window{Start: p.midnight(w.Start), End: p.midnight(w.End)}
	case KindOuting:
		w = Window{Start: w.Start.In(p.location()), End: w.End.In(p.location())}
	default:
		return Window{}, time.Time{}, newError(ErrInvalidRequest, "unknown leave kind %q", kind)
	}

	if !w.Start.After(now) {
		return Window{}, time.Time{}, newError(ErrInvalidWindow, "window must start in the future")
	}
	if !w.Start.Before(w.End) {
		return Window{}, time.Time{}, newError(ErrInvalidWindow, "window start must be before its end")
	}

	if kind == KindOuting {
		if !p.midnight(w.Start).Equal(p.midnight(w.End)) {
			return Window{}, time.Time{}, newError(ErrInvalidWindow, "an outing must start and end on the same day")
		}
		return w, w.End, nil
	}
	// An outpass covers its last day entirely.
	return w, w.End.AddDate(0, 0, 1), nil
}

// NewRequest builds a request in its initial (caretaker, pending) state.
func (p Policy) NewRequest(id, studentID string, kind Kind, reason string, w Window, now time.Time) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, newError(ErrInvalidRequest, "reason is required")
	}
	if studentID == "" {
		return Request{}, newError(ErrInvalidRequest, "student id is required")
	}
	w, expiresAt, err := p.NormalizeWindow(kind, w, now)
	if err != nil {
		return Request{}, err
	}
	return Request{
		ID:           id,
		StudentID:    studentID,
		Kind:         kind,
		Reason:       reason,
		Window:       w,
		ExpiresAt:    expiresAt,
		CurrentLevel: LevelCaretaker,
		Decision:     DecisionPending,
		ApprovalLog:  []ApprovalEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition applies an approver action and returns the next state of req.
// req itself is never modified.
func (p Policy) Transition(req Request, actor Actor, action Action, message string, now time.Time) (Request, EventType, error) {
	if !req.IsPending() || req.CurrentLevel == LevelCompleted {
		return Request{}, "", newError(ErrAlreadyFinalized, "request %s is already %s", req.ID, req.Decision)
	}
	if actor.Role != RoleWebmaster && Level(actor.Role) != req.CurrentLevel {
		return Request{}, "", newError(ErrUnauthorized, "request %s is awaiting %s, not %s", req.ID, req.CurrentLevel, actor.Role)
	}

	next := req.clone()
	var ev EventType
	switch action {
	case ActionApprove:
		if !p.FinalApprovalAnyLevel && !req.CurrentLevel.IsFinalApprover() {
			return Request{}, "", newError(ErrUnauthorized, "only %s may grant final approval", LevelDSW)
		}
		t := now
		next.Decision = DecisionApproved
		next.CurrentLevel = LevelCompleted
		next.IssuedBy = actor.Name
		next.IssuedTime = &t
		next.Message = message
		ev = EventApproved
	case ActionReject:
		t := now
		next.Decision = DecisionRejected
		next.CurrentLevel = LevelCompleted
		next.RejectedBy = actor.Name
		next.RejectedTime = &t
		next.Message = message
		ev = EventRejected
	case ActionForward:
		if req.CurrentLevel.IsFinalApprover() {
			return Request{}, "", newError(ErrCannotForwardFurther, "%s is the last approval level", req.CurrentLevel)
		}
		next.CurrentLevel = req.CurrentLevel.Next()
		ev = EventForwarded
	default:
		return Request{}, "", newError(ErrInvalidRequest, "unknown action %q", action)
	}

	next.ApprovalLog = append(next.ApprovalLog, ApprovalEntry{
		Action:    action,
		ByRole:    actor.Role,
		ByName:    actor.Name,
		Timestamp: now,
	})
	next.UpdatedAt = now
	return next, ev, nil
}

// Expire force-rejects an undecided request whose window has lapsed.
func Expire(req Request, now time.Time) (Request, error) {
	if !req.IsPending() {
		return Request{}, newError(ErrAlreadyFinalized, "request %s is already %s", req.ID, req.Decision)
	}
	if !now.After(req.ExpiresAt) {
		return Request{}, fmt.Errorf("request %s does not expire until %s", req.ID, req.ExpiresAt.Format(time.RFC3339))
	}
	t := now
	next := req.clone()
	next.Decision = DecisionRejected
	next.CurrentLevel = LevelCompleted
	next.IsExpired = true
	next.RejectedBy = AutoExpiredBy
	next.RejectedTime = &t
	next.Message = fmt.Sprintf("Automatically rejected: no decision was made before the leave window ended (%s).",
		req.ExpiresAt.Format("2006-01-02 15:04 MST"))
	next.ApprovalLog = append(next.ApprovalLog, ApprovalEntry{
		Action:    ActionReject,
		ByRole:    RoleSystem,
		ByName:    AutoExpiredBy,
		Timestamp: now,
	})
	next.UpdatedAt = now
	return next, nil
}

// CheckIn closes out an approved request when the student returns.
// changed is false when the request was already checked in.
func CheckIn(req Request, studentID string, now time.Time) (next Request, changed bool, err error) {
	if req.StudentID != studentID {
		return Request{}, false, newError(ErrRequestNotFound, "request %s not found for student %s", req.ID, studentID)
	}
	if req.CheckedIn() {
		return req, false, nil
	}
	if req.Decision != DecisionApproved {
		return Request{}, false, newError(ErrNotApproved, "request %s is %s, only approved leave can be checked in", req.ID, req.Decision)
	}
	t := now
	next = req.clone()
	next.IsExpired = true
	next.InTime = &t
	next.UpdatedAt = now
	return next, true, nil
}
