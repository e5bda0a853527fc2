package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
)

// Memory is a development-only in-memory Source. Writes are announced on an
// in-process feed.
type Memory struct {
	mu       sync.RWMutex
	rows     map[string]comment.Row
	feed     *LocalFeed
	failures map[string]error // method -> error returned once
}

func NewMemory(seed ...comment.Row) *Memory {
	m := &Memory{
		rows:     make(map[string]comment.Row, len(seed)),
		feed:     NewLocalFeed(),
		failures: make(map[string]error),
	}
	for _, r := range seed {
		m.rows[r.ID] = r
	}
	return m
}

// FailNext makes the next call of method ("list", "insert", "update" or
// "delete") return err without touching state.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

func (m *Memory) takeFailure(method string) error {
	err, ok := m.failures[method]
	if ok {
		delete(m.failures, method)
	}
	return err
}

func (m *Memory) ListComments(_ context.Context) ([]comment.Row, error) {
	m.mu.Lock()
	if err := m.takeFailure("list"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	out := make([]comment.Row, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) InsertComment(ctx context.Context, r comment.Row) (comment.Row, error) {
	m.mu.Lock()
	if err := m.takeFailure("insert"); err != nil {
		m.mu.Unlock()
		return comment.Row{}, err
	}
	if !r.IsRoot() {
		if _, ok := m.rows[*r.ParentID]; !ok {
			m.mu.Unlock()
			return comment.Row{}, fmt.Errorf("parent %s: %w", *r.ParentID, ErrNotFound)
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.rows[r.ID] = r
	m.mu.Unlock()

	_ = m.feed.Publish(ctx, Change{Op: OpInsert, IDs: []string{r.ID}})
	return r, nil
}

func (m *Memory) UpdateComment(ctx context.Context, id string, p Patch) error {
	m.mu.Lock()
	if err := m.takeFailure("update"); err != nil {
		m.mu.Unlock()
		return err
	}
	r, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if p.IsReported != nil {
		r.IsReported = *p.IsReported
	}
	m.rows[id] = r
	m.mu.Unlock()

	_ = m.feed.Publish(ctx, Change{Op: OpUpdate, IDs: []string{id}})
	return nil
}

func (m *Memory) DeleteComments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyIDs
	}
	m.mu.Lock()
	if err := m.takeFailure("delete"); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, id := range ids {
		delete(m.rows, id)
	}
	m.mu.Unlock()

	_ = m.feed.Publish(ctx, Change{Op: OpDelete, IDs: ids})
	return nil
}

func (m *Memory) SubscribeChanges(fn func(Change)) (func(), error) {
	return m.feed.Subscribe(fn)
}

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
