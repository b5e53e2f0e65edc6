package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outpass/internal/leave"
	"outpass/internal/queue"
)

// Metrics receives notification outcomes.
type Metrics interface {
	Notification(event, result string)
}

type nopMetrics struct{}

func (nopMetrics) Notification(string, string) {}

// QueueNotifier hands events to the outbound queue without blocking the caller.
type QueueNotifier struct {
	q       queue.Queue
	log     leave.Logger
	metrics Metrics
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

var _ leave.Notifier = (*QueueNotifier)(nil)

// NewQueueNotifier creates a notifier publishing to q. Each publish is
// bounded by timeout and detached from the caller's cancellation.
func NewQueueNotifier(q queue.Queue, log leave.Logger, metrics Metrics, timeout time.Duration) *QueueNotifier {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &QueueNotifier{q: q, log: log, metrics: metrics, timeout: timeout, now: time.Now}
}

// Notify publishes ev in the background. Failures are logged and counted.
func (n *QueueNotifier) Notify(ctx context.Context, ev leave.Event) {
	body, err := NewPayload(ev, n.now()).encode()
	if err != nil {
		n.fail(ev, fmt.Errorf("encode payload: %w", err))
		return
	}
	msg := queue.Message{Type: messagePrefix + string(ev.Type), Body: body}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.q.Publish(pctx, msg); err != nil {
			n.fail(ev, err)
			return
		}
		n.metrics.Notification(string(ev.Type), "queued")
	}()
}

// Wait blocks until in-flight publishes finish.
func (n *QueueNotifier) Wait() { n.wg.Wait() }

func (n *QueueNotifier) fail(ev leave.Event, err error) {
	n.metrics.Notification(string(ev.Type), "publish_failed")
	n.log.Error(err, "[notify] queue %s event for request %s", ev.Type, ev.Request.ID)
}
