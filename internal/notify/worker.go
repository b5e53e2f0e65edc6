package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"outpass/internal/leave"
	"outpass/internal/queue"
)

// Directory maps an approval level to the staff mailboxes behind it.
type Directory map[leave.Level][]mail.Address

// ParseDirectory reads "caretaker=a@x;b@x,warden=c@x" into a Directory.
func ParseDirectory(s string) (Directory, error) {
	dir := make(Directory)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("role emails: missing '=' in %q", part)
		}
		level, err := leave.ParseLevel(strings.TrimSpace(name))
		if err != nil || level == leave.LevelCompleted {
			return nil, fmt.Errorf("role emails: unknown level %q", name)
		}
		for _, raw := range strings.Split(list, ";") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			addr, err := mail.ParseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("role emails: %s: %w", level, err)
			}
			dir[level] = append(dir[level], *addr)
		}
	}
	return dir, nil
}

type delivery struct {
	to       []mail.Address
	greeting string
}

// Worker drains the notification queue and emails the people each event concerns.
type Worker struct {
	q        queue.Queue
	renderer *Renderer
	mailer   Mailer
	dir      Directory
	log      leave.Logger
	metrics  Metrics
}

// NewWorker wires a worker. A nil metrics sink discards outcomes.
func NewWorker(q queue.Queue, renderer *Renderer, mailer Mailer, dir Directory, log leave.Logger, metrics Metrics) *Worker {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Worker{q: q, renderer: renderer, mailer: mailer, dir: dir, log: log, metrics: metrics}
}

// Run consumes until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	w.log.Printf("[notify] worker started")
	for msg := range messages {
		w.Handle(ctx, msg)
	}
	w.log.Printf("[notify] worker stopped")
	return nil
}

// Handle delivers one queued message. Failures are logged and counted, never retried.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	if !strings.HasPrefix(msg.Type, messagePrefix) {
		return
	}
	p, err := decodePayload(msg.Body)
	if err != nil {
		w.metrics.Notification(strings.TrimPrefix(msg.Type, messagePrefix), "decode_failed")
		w.log.Error(err, "[notify] decode %s", msg.Type)
		return
	}

	for _, d := range w.recipients(p) {
		if len(d.to) == 0 {
			continue
		}
		e, err := w.renderer.Render(p, d.greeting)
		if err != nil {
			w.metrics.Notification(string(p.Event), "render_failed")
			w.log.Error(err, "[notify] render %s for request %s", p.Event, p.RequestID)
			return
		}
		e.To = d.to
		if err := w.mailer.Send(ctx, e); err != nil {
			w.metrics.Notification(string(p.Event), "send_failed")
			w.log.Error(err, "[notify] send %s for request %s", p.Event, p.RequestID)
			continue
		}
		w.metrics.Notification(string(p.Event), "sent")
	}
}

func (w *Worker) recipients(p Payload) []delivery {
	student := delivery{greeting: p.Student.Name}
	if p.Student.Email != "" {
		student.to = []mail.Address{{Name: p.Student.Name, Address: p.Student.Email}}
	}

	switch p.Event {
	case leave.EventCreated:
		return []delivery{student, w.staff(leave.LevelCaretaker)}
	case leave.EventForwarded:
		return []delivery{w.staff(p.CurrentLevel)}
	case leave.EventApproved, leave.EventRejected:
		parent := delivery{greeting: "Parent of " + p.Student.Name}
		if p.Student.ParentEmail != "" {
			parent.to = []mail.Address{{Address: p.Student.ParentEmail}}
		}
		return []delivery{student, parent}
	}
	return nil
}

func (w *Worker) staff(level leave.Level) delivery {
	if level == "" {
		return delivery{}
	}
	return delivery{to: w.dir[level], greeting: strings.ToUpper(string(level[:1])) + string(level[1:])}
}
