package leave

import (
	"fmt"
	"time"
)

// Kind discriminates the two leave request variants.
type Kind string

const (
	// KindOutpass is a multi-day leave with date granularity.
	KindOutpass Kind = "outpass"
	// KindOuting is a same-day leave with time-of-day granularity.
	KindOuting Kind = "outing"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOutpass, KindOuting:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown leave kind %q", s)
}

// Level is the approver role a pending request is waiting on.
type Level string

const (
	LevelCaretaker Level = "caretaker"
	LevelWarden    Level = "warden"
	LevelDSW       Level = "dsw"
	LevelCompleted Level = "completed"
)

// approvalChain is the fixed order requests move through.
var approvalChain = []Level{LevelCaretaker, LevelWarden, LevelDSW, LevelCompleted}

func (l Level) rank() int {
	for i, lv := range approvalChain {
		if lv == l {
			return i
		}
	}
	return -1
}

// Next returns the level after l, or LevelCompleted when l is the last approver.
func (l Level) Next() Level {
	r := l.rank()
	if r < 0 || r >= len(approvalChain)-1 {
		return LevelCompleted
	}
	return approvalChain[r+1]
}

// IsFinalApprover reports whether l is the last role in the chain.
func (l Level) IsFinalApprover() bool { return l == LevelDSW }

// ParseLevel validates an approver level string.
func ParseLevel(s string) (Level, error) {
	if l := Level(s); l.rank() >= 0 {
		return l, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// Decision is the outcome field of a request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Action is what an approver does to a request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionForward Action = "forward"
)

// ParseAction validates an action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject, ActionForward:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Role identifies who is calling. Approver roles share their names with levels.
type Role string

const (
	RoleStudent   Role = "student"
	RoleCaretaker Role = "caretaker"
	RoleWarden    Role = "warden"
	RoleDSW       Role = "dsw"
	// RoleWebmaster may act at any level.
	RoleWebmaster Role = "webmaster"
	// RoleSystem marks entries written by the expiry sweeper.
	RoleSystem Role = "system"
)

// IsStaff reports whether r is an approver or administrator.
func (r Role) IsStaff() bool {
	switch r {
	case RoleCaretaker, RoleWarden, RoleDSW, RoleWebmaster:
		return true
	}
	return false
}

// AutoExpiredBy is recorded as the rejecter of swept requests.
const AutoExpiredBy = "system(auto-expired)"

// Actor is the authenticated caller of Act.
type Actor struct {
	Role Role
	Name string
}

// ApprovalEntry is one append-only audit record.
type ApprovalEntry struct {
	Action    Action    `json:"action"`
	ByRole    Role      `json:"by_role"`
	ByName    string    `json:"by_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Window is the requested absence interval. Outpass bounds are campus-local midnights.
type Window struct {
	Start time.Time
	End   time.Time
}

// Request is a single outpass or outing. Both kinds share one state machine.
type Request struct {
	ID        string
	StudentID string
	Kind      Kind
	Reason    string
	Window    Window
	// ExpiresAt is the instant after which an undecided request is swept.
	ExpiresAt time.Time

	CurrentLevel Level
	Decision     Decision
	IsExpired    bool
	ApprovalLog  []ApprovalEntry

	IssuedBy     string
	IssuedTime   *time.Time
	RejectedBy   string
	RejectedTime *time.Time
	Message      string
	InTime       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPending reports whether no terminal decision has been made.
func (r Request) IsPending() bool { return r.Decision == DecisionPending }

// CheckedIn reports whether the student has returned from this request.
func (r Request) CheckedIn() bool { return r.InTime != nil }

// clone copies r so log appends never alias the caller's slice.
func (r Request) clone() Request {
	out := r
	out.ApprovalLog = append([]ApprovalEntry(nil), r.ApprovalLog...)
	return out
}

// Student holds the fields the lifecycle cares about.
type Student struct {
	ID          string
	Name        string
	Email       string
	ParentEmail string

	IsPresentInCampus    bool
	IsApplicationPending bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
