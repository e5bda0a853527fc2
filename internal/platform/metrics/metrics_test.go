package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSync_NilIsNoop(t *testing.T) {
	var m *Sync
	m.ObserveRefresh(RefreshApplied, time.Second)
	m.FeedEvent("insert")
	m.Mutation("delete", nil)
	m.SetViewSize(3)
}

func TestSync_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSync(reg)

	m.ObserveRefresh(RefreshApplied, 10*time.Millisecond)
	m.ObserveRefresh(RefreshStale, time.Millisecond)
	m.Mutation("report", errors.New("x"))
	m.SetViewSize(7)

	if got := testutil.ToFloat64(m.Refreshes.WithLabelValues(RefreshApplied)); got != 1 {
		t.Fatalf("expected 1 applied refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.Mutations.WithLabelValues("report", "error")); got != 1 {
		t.Fatalf("expected 1 failed report, got %v", got)
	}
	if got := testutil.ToFloat64(m.ViewComments); got != 7 {
		t.Fatalf("expected gauge 7, got %v", got)
	}

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "anoncomments_sync_refreshes_total") {
		t.Fatalf("metrics output missing refresh counter:\n%s", rr.Body.String())
	}
}
