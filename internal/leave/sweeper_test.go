package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outpass/internal/leave"
	"outpass/internal/logging"
	"outpass/internal/store"
)

// seedPending stores a pending request as if it had been submitted long ago.
func seedPending(t *testing.T, st leave.Store, req leave.Request) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx leave.Tx) error {
		if err := (leave.Coordinator{}).OnSubmitted(context.Background(), tx, req.StudentID); err != nil {
			return err
		}
		return tx.CreateRequest(context.Background(), req)
	})
	require.NoError(t, err)
}

func staleOuting(id, studentID string, end time.Time, level leave.Level) leave.Request {
	return leave.Request{
		ID:           id,
		StudentID:    studentID,
		Kind:         leave.KindOuting,
		Reason:       "market",
		Window:       leave.Window{Start: end.Add(-3 * time.Hour), End: end},
		ExpiresAt:    end,
		CurrentLevel: level,
		Decision:     leave.DecisionPending,
		ApprovalLog:  []leave.ApprovalEntry{},
		CreatedAt:    end.Add(-24 * time.Hour),
		UpdatedAt:    end.Add(-24 * time.Hour),
	}
}

type countingMetrics struct {
	mu       sync.Mutex
	expired  int
	failures int
}

func (m *countingMetrics) Transition(string, string) {}
func (m *countingMetrics) Expired() {
	m.mu.Lock()
	m.expired++
	m.mu.Unlock()
}
func (m *countingMetrics) SweepFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}
func (m *countingMetrics) SweepDuration(time.Duration) {}

func newSweeperStore(t *testing.T, ids ...string) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	for _, id := range ids {
		_, err := mem.UpsertStudent(context.Background(), leave.Student{ID: id, Name: id})
		require.NoError(t, err)
	}
	return mem
}

func TestSweepOnce_ExpiresStalePending(t *testing.T) {
	mem := newSweeperStore(t, "s-1", "s-2")
	now := time.Date(2025, 5, 20, 18, 0, 0, 0, campus)
	seedPending(t, mem, staleOuting("old", "s-1", now.Add(-10*time.Minute), leave.LevelCaretaker))
	seedPending(t, mem, staleOuting("fresh", "s-2", now.Add(time.Hour), leave.LevelWarden))

	notifier := &recordingNotifier{}
	m := &countingMetrics{}
	sw := leave.NewSweeper(mem, notifier, leave.SweeperConfig{Metrics: m, Logger: logging.Discard()})

	res, err := sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, leave.SweepResult{Scanned: 1, Expired: 1}, res)
	assert.Equal(t, 1, m.expired)

	old, err := mem.GetRequest(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, leave.DecisionRejected, old.Decision)
	assert.Equal(t, leave.LevelCompleted, old.CurrentLevel)
	assert.True(t, old.IsExpired)
	assert.Equal(t, leave.AutoExpiredBy, old.RejectedBy)
	require.Len(t, old.ApprovalLog, 1)
	assert.Equal(t, leave.RoleSystem, old.ApprovalLog[0].ByRole)

	s1, err := mem.GetStudent(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, s1.IsApplicationPending)
	assert.True(t, s1.IsPresentInCampus)

	fresh, err := mem.GetRequest(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, leave.DecisionPending, fresh.Decision)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, leave.EventRejected, notifier.events[0].Type)
	assert.Equal(t, "s-1", notifier.events[0].Student.ID)

	// A second pass finds nothing left to do.
	res, err = sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, leave.SweepResult{}, res)
}

func TestSweepOnce_BatchSize(t *testing.T) {
	mem := newSweeperStore(t, "a", "b", "c")
	now := time.Date(2025, 5, 20, 18, 0, 0, 0, campus)
	for i, id := range []string{"a", "b", "c"} {
		seedPending(t, mem, staleOuting("req-"+id, id, now.Add(-time.Duration(i+1)*time.Hour), leave.LevelCaretaker))
	}
	sw := leave.NewSweeper(mem, nil, leave.SweeperConfig{BatchSize: 2, Logger: logging.Discard()})

	res, err := sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expired)

	res, err = sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

// flakyStore fails the request update for one id.
type flakyStore struct {
	*store.Memory
	failID string
}

func (f flakyStore) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	return f.Memory.WithTx(ctx, func(tx leave.Tx) error {
		return fn(flakyTx{Tx: tx, failID: f.failID})
	})
}

type flakyTx struct {
	leave.Tx
	failID string
}

func (t flakyTx) UpdateRequestIf(ctx context.Context, e leave.Expect, next leave.Request) (bool, error) {
	if next.ID == t.failID {
		return false, errors.New("connection reset")
	}
	return t.Tx.UpdateRequestIf(ctx, e, next)
}

func TestSweepOnce_RecordFailureDoesNotStopTheSweep(t *testing.T) {
	mem := newSweeperStore(t, "s-1", "s-2")
	now := time.Date(2025, 5, 20, 18, 0, 0, 0, campus)
	seedPending(t, mem, staleOuting("bad", "s-1", now.Add(-2*time.Hour), leave.LevelCaretaker))
	seedPending(t, mem, staleOuting("good", "s-2", now.Add(-time.Hour), leave.LevelCaretaker))

	m := &countingMetrics{}
	sw := leave.NewSweeper(flakyStore{Memory: mem, failID: "bad"}, nil, leave.SweeperConfig{Metrics: m, Logger: logging.Discard()})

	res, err := sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, leave.SweepResult{Scanned: 2, Expired: 1, Failed: 1}, res)
	assert.Equal(t, 1, m.failures)

	bad, err := mem.GetRequest(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, leave.DecisionPending, bad.Decision, "failed record is rolled back")
	s1, err := mem.GetStudent(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, s1.IsApplicationPending)

	good, err := mem.GetRequest(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, good.IsExpired)
}

// racingStore lets an approver act between the sweeper's scan and its write.
type racingStore struct {
	*store.Memory
	beforeWrite func()
}

func (r racingStore) ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]leave.Request, error) {
	due, err := r.Memory.ListPendingExpired(ctx, now, limit)
	if err == nil && r.beforeWrite != nil {
		r.beforeWrite()
	}
	return due, err
}

func TestSweepOnce_LosesRaceToApprover(t *testing.T) {
	mem := newSweeperStore(t, "s-1")
	now := time.Date(2025, 5, 20, 18, 0, 0, 0, campus)
	seedPending(t, mem, staleOuting("late", "s-1", now.Add(-time.Minute), leave.LevelDSW))

	svc := leave.NewService(mem, nil, leave.Policy{Location: campus},
		leave.WithClock(func() time.Time { return now }), leave.WithLogger(logging.Discard()))
	rs := racingStore{Memory: mem, beforeWrite: func() {
		_, err := svc.Act(context.Background(), "late", dsw, leave.ActionApprove, "")
		require.NoError(t, err)
	}}

	notifier := &recordingNotifier{}
	sw := leave.NewSweeper(rs, notifier, leave.SweeperConfig{Logger: logging.Discard()})
	res, err := sw.SweepOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, leave.SweepResult{Scanned: 1, Skipped: 1}, res)
	assert.Empty(t, notifier.events)

	got, err := mem.GetRequest(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, leave.DecisionApproved, got.Decision)
	assert.False(t, got.IsExpired)
}

type brokenLister struct {
	*store.Memory
}

func (brokenLister) ListPendingExpired(context.Context, time.Time, int) ([]leave.Request, error) {
	return nil, errors.New("db down")
}

func TestSweepOnce_ScanFailure(t *testing.T) {
	sw := leave.NewSweeper(brokenLister{store.NewMemory()}, nil, leave.SweeperConfig{Logger: logging.Discard()})
	_, err := sw.SweepOnce(context.Background(), time.Now())
	assert.Error(t, err)
}
