// Package syncengine keeps a hierarchical view of the comment collection in
// step with the record source.
//
// The engine never patches the view from mutation results or event payloads.
// Every write is followed, sooner or later, by a full refetch and rebuild;
// the one shortcut is Delete, which drops the cascaded ids from the cached
// view immediately and then schedules a reconciling refresh.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/metrics"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/images"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/pseudonym"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
)

var (
	ErrEmptyText = errors.New("comment text must not be empty")
	ErrNoParent  = errors.New("reply needs a parent id")
)

// Snapshot is an immutable copy of the view handed to consumers. Version is
// the logical clock: it moves only when the tree actually changed.
type Snapshot struct {
	Comments     []*comment.Comment `json:"comments"`
	Version      uint64             `json:"version"`
	LastModified time.Time          `json:"last_modified"`
}

// Draft is the user input for a new comment or reply.
type Draft struct {
	Text     string
	Username string
	Image    *images.Image
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithSnapshots(s SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = s }
}

func WithMetrics(m *metrics.Sync) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithUploader(u images.Uploader) Option {
	return func(e *Engine) { e.uploader = u }
}

// WithSettleDelay sets how long after a delete the reconciling refresh runs.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.settle = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSeed replaces the fallback rows used when no snapshot can be loaded.
// nil means start empty.
func WithSeed(seed func(time.Time) []comment.Row) Option {
	return func(e *Engine) { e.seed = seed }
}

// Engine owns the last built view of the comment forest.
//
// The mutex only protects the fields; it is never held across a call to the
// record source, so refreshes, mutations and feed reactions all overlap
// freely. Overlapping refreshes resolve by issue order: a refresh whose
// result arrives after a later-issued refresh has already been applied is
// discarded.
type Engine struct {
	src       source.Source
	uploader  images.Uploader
	snapshots SnapshotStore
	metrics   *metrics.Sync
	log       *zap.Logger
	settle    time.Duration
	now       func() time.Time
	seed      func(time.Time) []comment.Row

	issued atomic.Uint64

	mu           sync.Mutex
	view         []*comment.Comment
	version      uint64
	lastModified time.Time
	applied      uint64
	listeners    map[int]func(Snapshot)
	nextListener int

	lifeMu      sync.Mutex
	closed      bool
	done        chan struct{}
	bg          context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func New(src source.Source, opts ...Option) *Engine {
	bg, cancel := context.WithCancel(context.Background())
	e := &Engine{
		src:       src,
		snapshots: NopSnapshots{},
		log:       zap.NewNop(),
		settle:    500 * time.Millisecond,
		now:       time.Now,
		seed:      Seed,
		view:      []*comment.Comment{},
		listeners: make(map[int]func(Snapshot)),
		done:      make(chan struct{}),
		bg:        bg,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start restores the persisted view (or the seed), subscribes to the change
// feed and runs the first refresh. A failing first refresh is logged and
// leaves the restored view in place.
func (e *Engine) Start(ctx context.Context) error {
	e.restore(ctx)

	unsubscribe, err := e.src.SubscribeChanges(e.onChange)
	if err != nil {
		return fmt.Errorf("subscribe changes: %w", err)
	}
	e.lifeMu.Lock()
	e.unsubscribe = unsubscribe
	e.lifeMu.Unlock()

	if err := e.Refresh(ctx); err != nil {
		e.log.Warn("initial refresh failed, serving restored view", zap.Error(err))
	}
	return nil
}

// Close stops reacting to the change feed and waits for background
// refreshes to finish.
func (e *Engine) Close() {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	e.cancel()
	unsubscribe := e.unsubscribe
	e.lifeMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.wg.Wait()
}

// View returns the current snapshot. Nodes in it are never modified after
// publication and may be shared freely.
func (e *Engine) View() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// OnChange registers fn to be called with every new snapshot. fn runs on the
// goroutine that changed the view and must not block.
func (e *Engine) OnChange(fn func(Snapshot)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Refresh refetches every row, rebuilds the forest and installs it unless a
// later-issued refresh got there first.
func (e *Engine) Refresh(ctx context.Context) error {
	seq := e.issued.Add(1)
	start := time.Now()

	rows, err := e.src.ListComments(ctx)
	if err != nil {
		e.metrics.ObserveRefresh(metrics.RefreshError, 0)
		return fmt.Errorf("list comments: %w", err)
	}

	result, snap := e.apply(seq, comment.BuildTree(rows))
	e.metrics.ObserveRefresh(result, time.Since(start))
	switch result {
	case metrics.RefreshApplied:
		e.persist(ctx, snap)
	case metrics.RefreshStale:
		e.log.Debug("discarded stale refresh", zap.Uint64("seq", seq))
	}
	return nil
}

func (e *Engine) apply(seq uint64, tree []*comment.Comment) (string, Snapshot) {
	e.mu.Lock()
	if seq < e.applied {
		e.mu.Unlock()
		return metrics.RefreshStale, Snapshot{}
	}
	e.applied = seq
	if cmp.Equal(e.view, tree, cmpopts.EquateEmpty()) {
		e.mu.Unlock()
		return metrics.RefreshUnchanged, Snapshot{}
	}
	snap := e.replaceLocked(tree)
	listeners := e.listenersLocked()
	e.mu.Unlock()

	notify(listeners, snap)
	return metrics.RefreshApplied, snap
}

// AddComment writes a new root comment. The view picks it up on the next
// refresh.
func (e *Engine) AddComment(ctx context.Context, d Draft) (comment.Row, error) {
	return e.insert(ctx, "add_comment", nil, d)
}

// AddReply writes a reply to parentID. A failed write changes nothing.
func (e *Engine) AddReply(ctx context.Context, parentID string, d Draft) (comment.Row, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return comment.Row{}, ErrNoParent
	}
	return e.insert(ctx, "add_reply", &parentID, d)
}

func (e *Engine) insert(ctx context.Context, op string, parentID *string, d Draft) (comment.Row, error) {
	if strings.TrimSpace(d.Text) == "" {
		return comment.Row{}, ErrEmptyText
	}
	row := comment.Row{
		Text:     d.Text,
		Username: pseudonym.OrGenerate(d.Username),
		ParentID: parentID,
		ImageURL: images.UploadBestEffort(ctx, e.uploader, d.Image, e.log),
	}
	created, err := e.src.InsertComment(ctx, row)
	e.metrics.Mutation(op, err)
	if err != nil {
		return comment.Row{}, fmt.Errorf("insert comment: %w", err)
	}
	e.log.Info("comment created", zap.String("id", created.ID), zap.Bool("reply", parentID != nil))
	return created, nil
}

// Report flags one comment. Reporting twice is not an error.
func (e *Engine) Report(ctx context.Context, id string) error {
	reported := true
	err := e.src.UpdateComment(ctx, id, source.Patch{IsReported: &reported})
	e.metrics.Mutation("report", err)
	if err != nil {
		return fmt.Errorf("report comment %s: %w", id, err)
	}
	return nil
}

// Delete removes id and every transitive reply in one batch and returns the
// removed ids. On success the ids are pruned from the cached view right away.
// Either way a reconciling refresh is scheduled after the settle delay.
func (e *Engine) Delete(ctx context.Context, id string) ([]string, error) {
	rows, err := e.src.ListComments(ctx)
	if err != nil {
		e.metrics.Mutation("delete", err)
		return nil, fmt.Errorf("list comments: %w", err)
	}
	ids := comment.CascadeIDs(id, rows)

	err = e.src.DeleteComments(ctx, ids)
	e.metrics.Mutation("delete", err)
	if err != nil {
		e.spawnRefresh(e.settle, "delete failed")
		return nil, fmt.Errorf("delete comments: %w", err)
	}

	e.removeLocal(ids)
	e.spawnRefresh(e.settle, "delete")
	e.log.Info("comments deleted", zap.String("target", id), zap.Int("count", len(ids)))
	return ids, nil
}

func (e *Engine) removeLocal(ids []string) {
	e.mu.Lock()
	pruned := comment.Prune(e.view, ids)
	if comment.Count(pruned) == comment.Count(e.view) {
		e.mu.Unlock()
		return
	}
	snap := e.replaceLocked(pruned)
	listeners := e.listenersLocked()
	e.mu.Unlock()

	notify(listeners, snap)
}

func (e *Engine) onChange(ch source.Change) {
	e.metrics.FeedEvent(string(ch.Op))
	e.log.Debug("change feed event", zap.String("op", string(ch.Op)), zap.Strings("ids", ch.IDs))
	e.spawnRefresh(0, "change feed")
}

// spawnRefresh runs Refresh in the background after delay.
func (e *Engine) spawnRefresh(delay time.Duration, reason string) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-e.done:
				return
			case <-t.C:
			}
		}
		if err := e.Refresh(e.bg); err != nil && e.bg.Err() == nil {
			e.log.Warn("background refresh failed", zap.String("reason", reason), zap.Error(err))
		}
	}()
}

func (e *Engine) restore(ctx context.Context) {
	rows, err := e.snapshots.Load(ctx)
	switch {
	case err != nil:
		e.log.Warn("persisted view unavailable, starting from seed", zap.Error(err))
		rows = e.seedRows()
	case rows == nil:
		rows = e.seedRows()
	}

	e.mu.Lock()
	snap := e.replaceLocked(comment.BuildTree(rows))
	listeners := e.listenersLocked()
	e.mu.Unlock()

	notify(listeners, snap)
}

func (e *Engine) seedRows() []comment.Row {
	if e.seed == nil {
		return nil
	}
	return e.seed(e.now())
}

func (e *Engine) persist(ctx context.Context, snap Snapshot) {
	if err := e.snapshots.Save(ctx, comment.Flatten(snap.Comments)); err != nil {
		e.log.Warn("persist view failed", zap.Error(err))
	}
}

// replaceLocked installs tree as the view and advances the clock.
func (e *Engine) replaceLocked(tree []*comment.Comment) Snapshot {
	e.view = tree
	e.version++
	e.lastModified = e.now().UTC()
	e.metrics.SetViewSize(comment.Count(tree))
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{Comments: e.view, Version: e.version, LastModified: e.lastModified}
}

func (e *Engine) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
