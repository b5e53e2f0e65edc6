package leave

import (
	"context"
	"time"
)

// Expect is the precondition of a conditional request update. The write
// only happens when the stored row still matches it.
type Expect struct {
	Level    Level
	Decision Decision
	// NotCheckedIn additionally requires in_time to be unset.
	NotCheckedIn bool
}

// ExpectOf returns the precondition that matches r exactly as it was read.
func ExpectOf(r Request) Expect {
	return Expect{Level: r.CurrentLevel, Decision: r.Decision, NotCheckedIn: !r.CheckedIn()}
}

// Flags is a partial view of the student's derived flags. Nil fields are ignored.
type Flags struct {
	Present *bool
	Pending *bool
}

// Reader loads single records.
type Reader interface {
	// GetRequest returns ErrRequestNotFound for unknown ids.
	GetRequest(ctx context.Context, id string) (Request, error)
	// GetStudent returns ErrStudentNotFound for unknown ids.
	GetStudent(ctx context.Context, id string) (Student, error)
}

// Tx is the write side of the store, valid inside Store.WithTx.
type Tx interface {
	Reader

	// CreateRequest inserts a new request. A second pending request for the
	// same student fails with ErrAlreadyPending.
	CreateRequest(ctx context.Context, r Request) error

	// UpdateRequestIf replaces the mutable fields of next.ID when the stored
	// row matches expect. ok is false when the precondition did not hold.
	UpdateRequestIf(ctx context.Context, expect Expect, next Request) (ok bool, err error)

	// UpdateStudentFlags applies patch when the stored flags match guard.
	// ok is false when the guard failed or the student does not exist.
	UpdateStudentFlags(ctx context.Context, studentID string, guard, patch Flags) (ok bool, err error)
}

// Store is the persistence collaborator of the lifecycle.
type Store interface {
	Reader

	// WithTx runs fn atomically. Returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ListPendingExpired returns up to limit pending requests whose
	// ExpiresAt is strictly before now, oldest first.
	ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]Request, error)

	// ListByStudent returns a student's requests, newest first.
	ListByStudent(ctx context.Context, studentID string) ([]Request, error)

	// ListPendingAtLevel returns pending requests awaiting level, oldest first.
	// An empty level lists every pending request.
	ListPendingAtLevel(ctx context.Context, level Level, limit int) ([]Request, error)

	// UpsertStudent creates or renames a student. Flags of existing students are kept.
	UpsertStudent(ctx context.Context, s Student) (Student, error)
}

// Event is handed to the notifier after a transition commits.
type Event struct {
	Type    EventType
	Request Request
	Student Student
}

// Notifier delivers events best-effort. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Logger is the logging surface used by the lifecycle.
type Logger interface {
	Printf(format string, v ...any)
	Error(err error, format string, v ...any)
}

// Metrics receives lifecycle counters.
type Metrics interface {
	Transition(action, result string)
	Expired()
	SweepFailure()
	SweepDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Transition(string, string)   {}
func (nopMetrics) Expired()                    {}
func (nopMetrics) SweepFailure()               {}
func (nopMetrics) SweepDuration(time.Duration) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

func boolPtr(b bool) *bool { return &b }
