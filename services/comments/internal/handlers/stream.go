package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/api"
	"github.com/gouravdev246/anonymous-comment/internal/platform/httpserver"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/syncengine"
)

// Stream handles GET /v1/comments/stream. It sends the current view as a
// server-sent "view" event and another one each time the view changes.
// Slow readers only ever see the newest view.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Internal(w, httpserver.RequestIDFromContext(r.Context()))
		return
	}

	latest := make(chan syncengine.Snapshot, 1)
	push := func(s syncengine.Snapshot) {
		for {
			select {
			case latest <- s:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	}
	cancel := h.comments.OnChange(push)
	defer cancel()
	push(h.comments.View())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	var sent uint64
	first := true
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap := <-latest:
			if !first && snap.Version <= sent {
				continue
			}
			first = false
			sent = snap.Version
			if err := writeEvent(w, snap); err != nil {
				h.log.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap syncengine.Snapshot) error {
	comments := snap.Comments
	if comments == nil {
		comments = []*comment.Comment{}
	}
	body := viewResponse{Comments: comments, Version: snap.Version, LastModified: snap.LastModified}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", snap.Version, data)
	return err
}
