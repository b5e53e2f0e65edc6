package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"outpass/internal/leave"
)

// Memory is an in-process leave.Store for tests and local runs.
// Transactions hold the write lock and restore a snapshot on error.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]leave.Request
	students map[string]leave.Student
	now      func() time.Time
}

var _ leave.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]leave.Request),
		students: make(map[string]leave.Student),
		now:      time.Now,
	}
}

// GetRequest returns a copy of the stored request.
func (m *Memory) GetRequest(_ context.Context, id string) (leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

// GetStudent returns the stored student.
func (m *Memory) GetStudent(_ context.Context, id string) (leave.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStudentLocked(id)
}

// WithTx runs fn under the write lock and rolls back on error.
func (m *Memory) WithTx(_ context.Context, fn func(leave.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryTx{parent: m}); err != nil {
		m.requests, m.students = snap.requests, snap.students
		return err
	}
	return nil
}

// ListPendingExpired returns pending requests with ExpiresAt before now.
func (m *Memory) ListPendingExpired(_ context.Context, now time.Time, limit int) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filterLocked(func(r leave.Request) bool {
		return r.IsPending() && r.ExpiresAt.Before(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return limitTo(out, limit), nil
}

// ListByStudent returns a student's requests, newest first.
func (m *Memory) ListByStudent(_ context.Context, studentID string) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filterLocked(func(r leave.Request) bool { return r.StudentID == studentID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListPendingAtLevel returns pending requests awaiting level, oldest first.
func (m *Memory) ListPendingAtLevel(_ context.Context, level leave.Level, limit int) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filterLocked(func(r leave.Request) bool {
		return r.IsPending() && (level == "" || r.CurrentLevel == level)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limitTo(out, limit), nil
}

// UpsertStudent creates or updates a student's contact details.
func (m *Memory) UpsertStudent(_ context.Context, s leave.Student) (leave.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if cur, ok := m.students[s.ID]; ok {
		cur.Name, cur.Email, cur.ParentEmail = s.Name, s.Email, s.ParentEmail
		cur.UpdatedAt = now
		m.students[s.ID] = cur
		return cur, nil
	}
	s.IsPresentInCampus = true
	s.IsApplicationPending = false
	s.CreatedAt, s.UpdatedAt = now, now
	m.students[s.ID] = s
	return s, nil
}

func (m *Memory) getRequestLocked(id string) (leave.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, leave.RequestNotFound(id)
	}
	return copyRequest(r), nil
}

func (m *Memory) getStudentLocked(id string) (leave.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return leave.Student{}, leave.StudentNotFound(id)
	}
	return s, nil
}

func (m *Memory) filterLocked(keep func(leave.Request) bool) []leave.Request {
	var out []leave.Request
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, copyRequest(r))
		}
	}
	return out
}

type memorySnapshot struct {
	requests map[string]leave.Request
	students map[string]leave.Student
}

func (m *Memory) snapshot() memorySnapshot {
	reqs := make(map[string]leave.Request, len(m.requests))
	for k, v := range m.requests {
		reqs[k] = copyRequest(v)
	}
	studs := make(map[string]leave.Student, len(m.students))
	for k, v := range m.students {
		studs[k] = v
	}
	return memorySnapshot{requests: reqs, students: studs}
}

// memoryTx writes straight into the parent; the caller already holds its lock.
type memoryTx struct {
	parent *Memory
}

func (tx *memoryTx) GetRequest(_ context.Context, id string) (leave.Request, error) {
	return tx.parent.getRequestLocked(id)
}

func (tx *memoryTx) GetStudent(_ context.Context, id string) (leave.Student, error) {
	return tx.parent.getStudentLocked(id)
}

func (tx *memoryTx) CreateRequest(_ context.Context, r leave.Request) error {
	for _, other := range tx.parent.requests {
		if r.IsPending() && other.StudentID == r.StudentID && other.IsPending() {
			return leave.AlreadyPending(r.StudentID)
		}
	}
	tx.parent.requests[r.ID] = copyRequest(r)
	return nil
}

func (tx *memoryTx) UpdateRequestIf(_ context.Context, expect leave.Expect, next leave.Request) (bool, error) {
	cur, ok := tx.parent.requests[next.ID]
	if !ok {
		return false, leave.RequestNotFound(next.ID)
	}
	if cur.CurrentLevel != expect.Level || cur.Decision != expect.Decision {
		return false, nil
	}
	if expect.NotCheckedIn && cur.CheckedIn() {
		return false, nil
	}
	// Identity and window are immutable.
	upd := copyRequest(next)
	upd.StudentID, upd.Kind, upd.Reason = cur.StudentID, cur.Kind, cur.Reason
	upd.Window, upd.ExpiresAt, upd.CreatedAt = cur.Window, cur.ExpiresAt, cur.CreatedAt
	tx.parent.requests[next.ID] = upd
	return true, nil
}

func (tx *memoryTx) UpdateStudentFlags(_ context.Context, studentID string, guard, patch leave.Flags) (bool, error) {
	st, ok := tx.parent.students[studentID]
	if !ok {
		return false, nil
	}
	if guard.Present != nil && st.IsPresentInCampus != *guard.Present {
		return false, nil
	}
	if guard.Pending != nil && st.IsApplicationPending != *guard.Pending {
		return false, nil
	}
	if patch.Present != nil {
		st.IsPresentInCampus = *patch.Present
	}
	if patch.Pending != nil {
		st.IsApplicationPending = *patch.Pending
	}
	st.UpdatedAt = tx.parent.now().UTC()
	tx.parent.students[studentID] = st
	return true, nil
}

func copyRequest(r leave.Request) leave.Request {
	r.ApprovalLog = append([]leave.ApprovalEntry(nil), r.ApprovalLog...)
	return r
}

func limitTo(rs []leave.Request, limit int) []leave.Request {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}
