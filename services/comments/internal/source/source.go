// Package source is the record source the sync engine reads from and writes
// to: a flat comment collection plus a change feed.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
)

// Op is the kind of write a change notification reports.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a notification that the comment collection changed. It names the
// affected ids but never carries the new state.
type Change struct {
	EventID    string    `json:"event_id"`
	Op         Op        `json:"op"`
	IDs        []string  `json:"ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Patch lists the mutable columns of a comment. Nil fields are left as is.
type Patch struct {
	IsReported *bool
}

// Source is the persistence contract for comments.
type Source interface {
	// ListComments returns every row ordered by creation time, newest first.
	ListComments(ctx context.Context) ([]comment.Row, error)
	InsertComment(ctx context.Context, r comment.Row) (comment.Row, error)
	UpdateComment(ctx context.Context, id string, p Patch) error
	// DeleteComments removes all ids in one batch; either all go or none.
	DeleteComments(ctx context.Context, ids []string) error
	// SubscribeChanges calls fn on every insert, update or delete, whichever
	// client caused it. The returned func cancels the subscription.
	SubscribeChanges(fn func(Change)) (unsubscribe func(), err error)
}

// Sentinel errors
var (
	ErrNotFound = errors.New("comment not found")
	ErrEmptyIDs = errors.New("no ids to delete")
)
