package leave

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Service coordinates submissions, approver actions and check-ins.
type Service struct {
	store    Store
	notifier Notifier
	policy   Policy
	coord    Coordinator
	metrics  Metrics
	log      Logger
	now      func() time.Time
	newID    func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDs overrides request id generation.
func WithIDs(newID func() string) Option { return func(s *Service) { s.newID = newID } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates a service. A nil notifier drops every event.
func NewService(store Store, notifier Notifier, policy Policy, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		policy:   policy,
		metrics:  nopMetrics{},
		log:      stdLogger{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the approval policy in force.
func (s *Service) Policy() Policy { return s.policy }

// Submit files a new request for a student who is on campus with nothing pending.
func (s *Service) Submit(ctx context.Context, studentID string, kind Kind, reason string, w Window) (Request, error) {
	req, err := s.policy.NewRequest(s.newID(), studentID, kind, reason, w, s.now())
	if err != nil {
		s.metrics.Transition("submit", resultOf(err))
		return Request{}, err
	}

	var student Student
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := s.coord.OnSubmitted(ctx, tx, studentID); err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, req); err != nil {
			if isExpected(err) {
				return err
			}
			return fmt.Errorf("create request: %w", err)
		}
		student, err = tx.GetStudent(ctx, studentID)
		return err
	})
	s.metrics.Transition("submit", resultOf(err))
	if err != nil {
		return Request{}, err
	}

	s.notifier.Notify(ctx, Event{Type: EventCreated, Request: req, Student: student})
	return req, nil
}

// Act applies an approver action. Losing a concurrent race yields ErrAlreadyFinalized.
func (s *Service) Act(ctx context.Context, requestID string, actor Actor, action Action, message string) (Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		s.metrics.Transition(string(action), resultOf(err))
		return Request{}, err
	}

	next, ev, err := s.policy.Transition(req, actor, action, message, s.now())
	if err != nil {
		s.metrics.Transition(string(action), resultOf(err))
		return Request{}, err
	}

	var student Student
	err = s.store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateRequestIf(ctx, ExpectOf(req), next)
		if err != nil {
			return fmt.Errorf("update request %s: %w", req.ID, err)
		}
		if !ok {
			return newError(ErrAlreadyFinalized, "request %s was changed concurrently", req.ID)
		}
		if !next.IsPending() {
			if err := s.coord.OnFinalized(ctx, tx, next.StudentID, next.Decision); err != nil {
				return err
			}
		}
		student, err = tx.GetStudent(ctx, next.StudentID)
		return err
	})
	s.metrics.Transition(string(action), resultOf(err))
	if err != nil {
		return Request{}, err
	}

	s.notifier.Notify(ctx, Event{Type: ev, Request: next, Student: student})
	return next, nil
}

// CheckIn records the student's return. Repeating it is a successful no-op.
func (s *Service) CheckIn(ctx context.Context, studentID, requestID string) (Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		s.metrics.Transition("checkin", resultOf(err))
		return Request{}, err
	}
	next, changed, err := CheckIn(req, studentID, s.now())
	if err != nil || !changed {
		s.metrics.Transition("checkin", resultOf(err))
		return next, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateRequestIf(ctx, ExpectOf(req), next)
		if err != nil {
			return fmt.Errorf("update request %s: %w", req.ID, err)
		}
		if !ok {
			cur, err := tx.GetRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			if cur.CheckedIn() {
				next = cur
				return nil
			}
			return newError(ErrAlreadyFinalized, "request %s was changed concurrently", req.ID)
		}
		return s.coord.OnCheckedIn(ctx, tx, studentID)
	})
	s.metrics.Transition("checkin", resultOf(err))
	if err != nil {
		return Request{}, err
	}
	return next, nil
}

// Get returns a single request.
func (s *Service) Get(ctx context.Context, requestID string) (Request, error) {
	return s.store.GetRequest(ctx, requestID)
}

// Student returns a single student.
func (s *Service) Student(ctx context.Context, studentID string) (Student, error) {
	return s.store.GetStudent(ctx, studentID)
}

// History lists a student's requests, newest first.
func (s *Service) History(ctx context.Context, studentID string) ([]Request, error) {
	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.store.ListByStudent(ctx, studentID)
}

// Queue lists pending requests awaiting level.
func (s *Service) Queue(ctx context.Context, level Level, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPendingAtLevel(ctx, level, limit)
}

// RegisterStudent creates a student or updates their contact details.
func (s *Service) RegisterStudent(ctx context.Context, st Student) (Student, error) {
	if st.ID == "" || st.Name == "" {
		return Student{}, newError(ErrInvalidRequest, "student id and name are required")
	}
	return s.store.UpsertStudent(ctx, st)
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return k
	}
	return "error"
}

type stdLogger struct{}

func (stdLogger) Printf(format string, v ...any) { log.Printf(format, v...) }

func (stdLogger) Error(err error, format string, v ...any) {
	log.Printf(format+": %v", append(v, err)...)
}
