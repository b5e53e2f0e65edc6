package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outpass/internal/leave"
	"outpass/internal/logging"
	"outpass/internal/queue"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func sampleEvent(typ leave.EventType) leave.Event {
	r := leave.Request{
		ID:           "req-42",
		StudentID:    "s-1",
		Kind:         leave.KindOutpass,
		Reason:       "sister's wedding",
		Window:       leave.Window{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, ist), End: time.Date(2025, 6, 3, 0, 0, 0, 0, ist)},
		CurrentLevel: leave.LevelCaretaker,
		Decision:     leave.DecisionPending,
	}
	switch typ {
	case leave.EventForwarded:
		r.CurrentLevel = leave.LevelWarden
	case leave.EventApproved:
		r.CurrentLevel, r.Decision, r.IssuedBy, r.Message = leave.LevelCompleted, leave.DecisionApproved, "Dean", "enjoy"
	case leave.EventRejected:
		r.CurrentLevel, r.Decision, r.RejectedBy = leave.LevelCompleted, leave.DecisionRejected, "Ravi"
	}
	return leave.Event{Type: typ, Request: r, Student: leave.Student{
		ID: "s-1", Name: "Sam", Email: "sam@example.edu", ParentEmail: "parent@example.com",
	}}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("Outpass", "https://outpass.example.edu", ist)
	require.NoError(t, err)
	return r
}

func TestRenderer_EveryEvent(t *testing.T) {
	r := newRenderer(t)
	cases := []struct {
		typ     leave.EventType
		subject string
		phrase  string
	}{
		{leave.EventCreated, "New leave request", "Sam (s-1) submitted a new outpass request"},
		{leave.EventForwarded, "Leave request awaiting your decision", "needs a decision from the warden"},
		{leave.EventApproved, "Leave request approved", "was approved by Dean"},
		{leave.EventRejected, "Leave request rejected", "was rejected by Ravi"},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			e, err := r.Render(NewPayload(sampleEvent(tc.typ), time.Now()), "Sam")
			require.NoError(t, err)
			assert.Equal(t, tc.subject, e.Subject)
			assert.Contains(t, e.Text, "Hello Sam,")
			assert.Contains(t, e.Text, tc.phrase)
			assert.Contains(t, e.Text, "Window: 01 Jun 2025 00:00 to 03 Jun 2025 00:00")
			assert.Contains(t, e.Text, "https://outpass.example.edu/requests/req-42")
			assert.Contains(t, e.HTML, `href="https://outpass.example.edu/requests/req-42"`)
			assert.Contains(t, e.HTML, "sister&#39;s wedding", "html output is escaped")
		})
	}
}

func TestRenderer_ExpiredRejection(t *testing.T) {
	ev := sampleEvent(leave.EventRejected)
	ev.Request.IsExpired = true
	ev.Request.RejectedBy = leave.AutoExpiredBy

	e, err := newRenderer(t).Render(NewPayload(ev, time.Now()), "Sam")
	require.NoError(t, err)
	assert.Equal(t, "Leave request expired", e.Subject)
	assert.Contains(t, e.Text, "expired before anyone decided on it")
	assert.NotContains(t, e.Text, "rejected by")
}

func TestRenderer_UnknownEvent(t *testing.T) {
	_, err := newRenderer(t).Render(Payload{Event: "archived"}, "x")
	assert.Error(t, err)
}

func TestParseDirectory(t *testing.T) {
	dir, err := ParseDirectory(" caretaker=a@x.edu;Bea <b@x.edu> , warden=w@x.edu,dsw=")
	require.NoError(t, err)
	require.Len(t, dir[leave.LevelCaretaker], 2)
	assert.Equal(t, "Bea", dir[leave.LevelCaretaker][1].Name)
	assert.Equal(t, []mail.Address{{Address: "w@x.edu"}}, dir[leave.LevelWarden])
	assert.Empty(t, dir[leave.LevelDSW])

	empty, err := ParseDirectory("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"caretaker", "janitor=j@x.edu", "completed=c@x.edu", "warden=not-an-address"} {
		_, err := ParseDirectory(bad)
		assert.Error(t, err, bad)
	}
}

type sentMail struct {
	mu    sync.Mutex
	sent  []Email
	fail  error
	calls int
}

func (m *sentMail) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, e)
	return nil
}

type outcomes struct {
	mu   sync.Mutex
	seen map[string]int
}

func (o *outcomes) Notification(event, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = make(map[string]int)
	}
	o.seen[event+"/"+result]++
}

func (o *outcomes) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen[key]
}

func message(t *testing.T, ev leave.Event) queue.Message {
	t.Helper()
	body, err := NewPayload(ev, time.Now()).encode()
	require.NoError(t, err)
	return queue.Message{Type: messagePrefix + string(ev.Type), Body: body}
}

func addresses(e Email) []string {
	out := make([]string, len(e.To))
	for i, a := range e.To {
		out[i] = a.Address
	}
	return out
}

func newTestWorker(t *testing.T, mailer Mailer, m Metrics) *Worker {
	dir, err := ParseDirectory("caretaker=c1@x.edu;c2@x.edu,warden=w@x.edu")
	require.NoError(t, err)
	return NewWorker(queue.NewInMemory(1), newRenderer(t), mailer, dir, logging.Discard(), m)
}

func TestWorker_Recipients(t *testing.T) {
	cases := []struct {
		typ  leave.EventType
		want [][]string
	}{
		{leave.EventCreated, [][]string{{"sam@example.edu"}, {"c1@x.edu", "c2@x.edu"}}},
		{leave.EventForwarded, [][]string{{"w@x.edu"}}},
		{leave.EventApproved, [][]string{{"sam@example.edu"}, {"parent@example.com"}}},
		{leave.EventRejected, [][]string{{"sam@example.edu"}, {"parent@example.com"}}},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			mailer := &sentMail{}
			m := &outcomes{}
			newTestWorker(t, mailer, m).Handle(context.Background(), message(t, sampleEvent(tc.typ)))

			require.Len(t, mailer.sent, len(tc.want))
			for i, want := range tc.want {
				assert.Equal(t, want, addresses(mailer.sent[i]))
			}
			assert.Equal(t, len(tc.want), m.count(string(tc.typ)+"/sent"))
		})
	}
}

func TestWorker_ParentGreeting(t *testing.T) {
	mailer := &sentMail{}
	newTestWorker(t, mailer, nil).Handle(context.Background(), message(t, sampleEvent(leave.EventApproved)))
	require.Len(t, mailer.sent, 2)
	assert.Contains(t, mailer.sent[1].Text, "Hello Parent of Sam,")
}

func TestWorker_SkipsMissingAddresses(t *testing.T) {
	ev := sampleEvent(leave.EventForwarded)
	ev.Request.CurrentLevel = leave.LevelDSW // no dsw mailbox configured
	mailer := &sentMail{}
	newTestWorker(t, mailer, nil).Handle(context.Background(), message(t, ev))
	assert.Zero(t, mailer.calls)

	ev = sampleEvent(leave.EventApproved)
	ev.Student.ParentEmail = ""
	newTestWorker(t, mailer, nil).Handle(context.Background(), message(t, ev))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"sam@example.edu"}, addresses(mailer.sent[0]))
}

func TestWorker_Failures(t *testing.T) {
	m := &outcomes{}
	mailer := &sentMail{fail: errors.New("smtp down")}
	w := newTestWorker(t, mailer, m)

	w.Handle(context.Background(), message(t, sampleEvent(leave.EventApproved)))
	assert.Equal(t, 2, mailer.calls, "one failed recipient does not stop the next")
	assert.Equal(t, 2, m.count("approved/send_failed"))

	w.Handle(context.Background(), queue.Message{Type: "leave.created", Body: []byte("{")})
	assert.Equal(t, 1, m.count("created/decode_failed"))

	w.Handle(context.Background(), queue.Message{Type: "audit.recorded", Body: []byte("{}")})
	assert.Equal(t, 2, mailer.calls, "foreign messages are ignored")
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	q := queue.NewInMemory(4)
	mailer := &sentMail{}
	dir, err := ParseDirectory("warden=w@x.edu")
	require.NoError(t, err)
	w := NewWorker(q, newRenderer(t), mailer, dir, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, message(t, sampleEvent(leave.EventForwarded))))
	require.Eventually(t, func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		return len(mailer.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error {
	return errors.New("redis unavailable")
}

func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("redis unavailable")
}

func TestQueueNotifier_Publishes(t *testing.T) {
	q := queue.NewInMemory(4)
	m := &outcomes{}
	n := NewQueueNotifier(q, logging.Discard(), m, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, sampleEvent(leave.EventCreated))
	cancel() // the publish is detached from the caller
	n.Wait()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, m.count("created/queued"))

	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, "leave.created", msg.Type)
	var p Payload
	require.NoError(t, json.Unmarshal(msg.Body, &p))
	assert.Equal(t, "req-42", p.RequestID)
	assert.Equal(t, "parent@example.com", p.Student.ParentEmail)
}

func TestQueueNotifier_PublishFailureIsCounted(t *testing.T) {
	m := &outcomes{}
	n := NewQueueNotifier(failingQueue{}, logging.Discard(), m, 0)
	n.Notify(context.Background(), sampleEvent(leave.EventRejected))
	n.Wait()
	assert.Equal(t, 1, m.count("rejected/publish_failed"))
}

func TestLogMailer(t *testing.T) {
	var buf lockedBuffer
	m := LogMailer{Log: logging.New(logging.Options{Out: &buf})}
	require.NoError(t, m.Send(context.Background(), Email{
		To:      []mail.Address{{Name: "Sam", Address: "sam@example.edu"}},
		Subject: "Leave request approved",
		Text:    "body",
	}))
	assert.Contains(t, buf.String(), `to="Sam" <sam@example.edu> subject="Leave request approved"`)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func TestSendGridMailer(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, sendGridEndpoint, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSendGridMailer("sg-key", "Outpass", "no-reply@outpass.local")
	m.host = srv.URL
	err := m.Send(context.Background(), Email{
		To:      []mail.Address{{Name: "Sam", Address: "sam@example.edu"}, {Address: "parent@example.com"}},
		Subject: "Leave request approved",
		Text:    "plain",
		HTML:    "<p>html</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sg-key", auth)

	pers := got["personalizations"].([]any)[0].(map[string]any)
	assert.Equal(t, "[Outpass] Leave request approved", pers["subject"])
	assert.Len(t, pers["to"], 2)
	assert.Equal(t, "no-reply@outpass.local", got["from"].(map[string]any)["email"])
	assert.Len(t, got["content"], 2)
}

func TestSendGridMailer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewSendGridMailer("bad", "Outpass", "no-reply@outpass.local")
	m.host = srv.URL
	err := m.Send(context.Background(), Email{To: []mail.Address{{Address: "x@example.edu"}}, Subject: "s", Text: "t", HTML: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	assert.NoError(t, m.Send(context.Background(), Email{}), "no recipients is a no-op")
}
