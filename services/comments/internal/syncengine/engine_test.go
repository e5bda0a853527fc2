package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gouravdev246/anonymous-comment/internal/platform/metrics"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/images"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func rowAt(id string, parent *string, sec int) comment.Row {
	return comment.Row{ID: id, Text: "t-" + id, Username: "u", ParentID: parent, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func rootIDs(s Snapshot) []string {
	out := make([]string, 0, len(s.Comments))
	for _, c := range s.Comments {
		out = append(out, c.ID)
	}
	return out
}

func newEngine(t *testing.T, src source.Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithSeed(nil),
		WithSettleDelay(10 * time.Millisecond),
	}, opts...)
	e := New(src, opts...)
	t.Cleanup(e.Close)
	return e
}

func TestStart_BuildsInitialView(t *testing.T) {
	src := source.NewMemory(
		rowAt("1", nil, 100),
		rowAt("2", strp("1"), 110),
		rowAt("3", strp("2"), 120),
	)
	e := newEngine(t, src)
	require.NoError(t, e.Start(context.Background()))

	v := e.View()
	require.Len(t, v.Comments, 1)
	assert.Equal(t, "1", v.Comments[0].ID)
	assert.Equal(t, "3", v.Comments[0].Replies[0].Replies[0].ID)
	assert.NotZero(t, v.Version)
}

func TestStart_FallsBackToSeedWhenSourceDown(t *testing.T) {
	src := source.NewMemory()
	src.FailNext("list", errors.New("offline"))

	e := New(src, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return t0 }))
	t.Cleanup(e.Close)
	require.NoError(t, e.Start(context.Background()))

	v := e.View()
	require.Len(t, v.Comments, 1)
	assert.Equal(t, SeedWelcomeID, v.Comments[0].ID)
	require.Len(t, v.Comments[0].Replies, 1)
	assert.Equal(t, SeedReplyID, v.Comments[0].Replies[0].ID)
}

func TestRefresh_UnchangedDoesNotAdvanceClock(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1))
	e := newEngine(t, src)
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	first := e.View()

	calls := 0
	cancel := e.OnChange(func(Snapshot) { calls++ })
	defer cancel()

	require.NoError(t, e.Refresh(ctx))
	second := e.View()
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.LastModified, second.LastModified)
	assert.Zero(t, calls)
}

func TestRefresh_ErrorKeepsView(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	src.FailNext("list", errors.New("timeout"))
	require.Error(t, e.Refresh(ctx))
	assert.Equal(t, []string{"1"}, rootIDs(e.View()))
}

// gatedSource blocks each ListComments call until the test hands it rows.
type gatedSource struct {
	*source.Memory
	mu      sync.Mutex
	calls   int
	gates   []chan []comment.Row
	started chan int
}

func newGatedSource(n int) *gatedSource {
	g := &gatedSource{Memory: source.NewMemory(), started: make(chan int, n)}
	for i := 0; i < n; i++ {
		g.gates = append(g.gates, make(chan []comment.Row, 1))
	}
	return g
}

func (g *gatedSource) ListComments(ctx context.Context) ([]comment.Row, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	g.mu.Unlock()
	g.started <- idx
	select {
	case rows := <-g.gates[idx]:
		return rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefresh_LaterIssuedRefreshWins(t *testing.T) {
	src := newGatedSource(2)
	e := newEngine(t, src)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- e.Refresh(ctx) }()
	require.Equal(t, 0, <-src.started)

	secondDone := make(chan error, 1)
	go func() { secondDone <- e.Refresh(ctx) }()
	require.Equal(t, 1, <-src.started)

	// second finishes first
	src.gates[1] <- []comment.Row{rowAt("new", nil, 2)}
	require.NoError(t, <-secondDone)
	assert.Equal(t, []string{"new"}, rootIDs(e.View()))

	// first finishes last with an older snapshot and must not win
	src.gates[0] <- []comment.Row{rowAt("old", nil, 1)}
	require.NoError(t, <-firstDone)
	assert.Equal(t, []string{"new"}, rootIDs(e.View()))
}

func TestRefresh_SequentialLastWins(t *testing.T) {
	src := newGatedSource(2)
	e := newEngine(t, src)
	ctx := context.Background()

	src.gates[0] <- []comment.Row{rowAt("a", nil, 1)}
	require.NoError(t, e.Refresh(ctx))
	<-src.started
	src.gates[1] <- []comment.Row{rowAt("b", nil, 1)}
	require.NoError(t, e.Refresh(ctx))
	assert.Equal(t, []string{"b"}, rootIDs(e.View()))
}

func TestAddComment_AppearsViaChangeFeed(t *testing.T) {
	src := source.NewMemory()
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	created, err := e.AddComment(ctx, Draft{Text: "hello", Username: ""})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Username, "blank username should get a pseudonym")
	assert.Nil(t, created.ParentID)

	require.Eventually(t, func() bool {
		return comment.Find(e.View().Comments, created.ID) != nil
	}, time.Second, 5*time.Millisecond)
}

func TestAddComment_EmptyText(t *testing.T) {
	src := source.NewMemory()
	e := newEngine(t, src)
	_, err := e.AddComment(context.Background(), Draft{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Zero(t, src.Len())
}

func TestAddReply(t *testing.T) {
	src := source.NewMemory(rowAt("p", nil, 1))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	reply, err := e.AddReply(ctx, "p", Draft{Text: "re", Username: "bob"})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, "p", *reply.ParentID)

	require.Eventually(t, func() bool {
		v := e.View()
		return len(v.Comments) == 1 && len(v.Comments[0].Replies) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAddReply_FailureLeavesNoTrace(t *testing.T) {
	src := source.NewMemory(rowAt("p", nil, 1))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))
	before := e.View()

	src.FailNext("insert", errors.New("503"))
	_, err := e.AddReply(ctx, "p", Draft{Text: "lost"})
	require.Error(t, err)

	_, err = e.AddReply(ctx, "ghost", Draft{Text: "orphan"})
	require.ErrorIs(t, err, source.ErrNotFound)

	_, err = e.AddReply(ctx, " ", Draft{Text: "x"})
	require.ErrorIs(t, err, ErrNoParent)

	assert.Equal(t, 1, src.Len())
	assert.Equal(t, before.Version, e.View().Version)
}

type stubUploader struct{ url string }

func (s stubUploader) Upload(context.Context, []byte, string) (string, error) { return s.url, nil }

type failingUploader struct{}

func (failingUploader) Upload(context.Context, []byte, string) (string, error) {
	return "", errors.New("bucket gone")
}

func TestAddComment_Image(t *testing.T) {
	ctx := context.Background()
	img := &images.Image{Data: []byte("gif"), MimeType: "image/gif"}

	src := source.NewMemory()
	e := newEngine(t, src, WithUploader(stubUploader{url: "https://cdn/x.gif"}))
	created, err := e.AddComment(ctx, Draft{Text: "pic", Image: img})
	require.NoError(t, err)
	require.NotNil(t, created.ImageURL)
	assert.Equal(t, "https://cdn/x.gif", *created.ImageURL)

	e2 := newEngine(t, source.NewMemory(), WithUploader(failingUploader{}))
	created, err = e2.AddComment(ctx, Draft{Text: "pic", Image: img})
	require.NoError(t, err, "upload failure must not block the comment")
	assert.Nil(t, created.ImageURL)
}

func TestReport_Idempotent(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.Report(ctx, "1"))
	require.NoError(t, e.Report(ctx, "1"))
	assert.ErrorIs(t, e.Report(ctx, "missing"), source.ErrNotFound)

	require.Eventually(t, func() bool {
		v := e.View()
		return len(v.Comments) == 1 && v.Comments[0].IsReported
	}, time.Second, 5*time.Millisecond)
}

func TestDelete_CascadesAndPrunesImmediately(t *testing.T) {
	src := source.NewMemory(
		rowAt("1", nil, 100),
		rowAt("2", strp("1"), 110),
		rowAt("3", strp("2"), 120),
		rowAt("4", nil, 130),
	)
	// keep the reconcile refresh out of the way so the local prune is observable
	e := newEngine(t, src, WithSettleDelay(time.Hour))
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))
	before := e.View()

	ids, err := e.Delete(ctx, "1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)

	v := e.View()
	assert.Equal(t, []string{"4"}, rootIDs(v))
	assert.Greater(t, v.Version, before.Version)
	assert.Equal(t, 1, src.Len())
}

func TestDelete_ReconcilesAfterFailure(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1), rowAt("2", strp("1"), 2))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	src.FailNext("delete", errors.New("partial outage"))
	_, err := e.Delete(ctx, "1")
	require.Error(t, err)

	// nothing pruned, rows still there
	assert.Equal(t, 2, comment.Count(e.View().Comments))
	assert.Equal(t, 2, src.Len())
}

func TestDelete_ReconcileRefreshRestoresTruth(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1), rowAt("2", nil, 2))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	_, err := e.Delete(ctx, "1")
	require.NoError(t, err)

	// another client re-adds a row before the reconcile runs
	_, err = src.InsertComment(ctx, rowAt("3", nil, 3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := rootIDs(e.View())
		return len(ids) == 2 && ids[0] == "3" && ids[1] == "2"
	}, time.Second, 5*time.Millisecond)
}

func TestOnChange_ReceivesSnapshots(t *testing.T) {
	src := source.NewMemory(rowAt("1", nil, 1))
	e := newEngine(t, src)

	got := make(chan Snapshot, 4)
	cancel := e.OnChange(func(s Snapshot) { got <- s })
	require.NoError(t, e.Refresh(context.Background()))

	select {
	case s := <-got:
		assert.Equal(t, []string{"1"}, rootIDs(s))
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	cancel()
	_, _ = src.InsertComment(context.Background(), rowAt("2", nil, 2))
	require.NoError(t, e.Refresh(context.Background()))
	select {
	case s := <-got:
		t.Fatalf("cancelled listener still called: %+v", s)
	default:
	}
}

func TestClose_StopsFeedReactions(t *testing.T) {
	src := source.NewMemory()
	e := New(src, WithSeed(nil))
	require.NoError(t, e.Start(context.Background()))
	e.Close()
	e.Close()

	_, err := src.InsertComment(context.Background(), rowAt("late", nil, 1))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, e.View().Comments)
}

func TestMetrics_Recorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSync(reg)
	src := source.NewMemory(rowAt("1", nil, 1))
	e := newEngine(t, src, WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, e.Refresh(ctx))
	require.NoError(t, e.Refresh(ctx))
	require.NoError(t, e.Report(ctx, "1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(metrics.RefreshApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(metrics.RefreshUnchanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("report", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewComments))
}
