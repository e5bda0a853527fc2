// Package handlers exposes the synced comment view and its mutations over
// HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/api"
	"github.com/gouravdev246/anonymous-comment/internal/platform/httpserver"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/images"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/syncengine"
)

// Comments is the part of the sync engine the handlers drive.
type Comments interface {
	View() syncengine.Snapshot
	OnChange(fn func(syncengine.Snapshot)) (cancel func())
	Refresh(ctx context.Context) error
	AddComment(ctx context.Context, d syncengine.Draft) (comment.Row, error)
	AddReply(ctx context.Context, parentID string, d syncengine.Draft) (comment.Row, error)
	Report(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) ([]string, error)
}

type Options struct {
	MaxTextChars  int
	MaxImageBytes int64
	// Heartbeat is the idle interval between keep-alive lines on the stream.
	Heartbeat time.Duration
	// Moderator guards the delete route. Nil leaves it open.
	Moderator func(http.Handler) http.Handler
	Logger    *zap.Logger
}

type Handler struct {
	comments Comments
	opts     Options
	validate *draftValidator
	log      *zap.Logger
}

func New(c Comments, opts Options) *Handler {
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = 5000
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 5 << 20
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{comments: c, opts: opts, validate: newDraftValidator(opts.MaxTextChars), log: opts.Logger}
}

// Routes mounts the comment endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/comments", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/stream", h.Stream)
		r.Post("/refresh", h.ForceRefresh)
		r.Post("/{comment_id}/replies", h.Reply)
		r.Post("/{comment_id}/report", h.Report)
		r.Group(func(r chi.Router) {
			if h.opts.Moderator != nil {
				r.Use(h.opts.Moderator)
			}
			r.Delete("/{comment_id}", h.Delete)
		})
	})
}

type viewResponse struct {
	Comments     []*comment.Comment `json:"comments"`
	Version      uint64             `json:"version"`
	LastModified time.Time          `json:"last_modified"`
}

type deleteResponse struct {
	Deleted []string `json:"deleted"`
}

func etag(version uint64) string {
	return fmt.Sprintf(`"v%d"`, version)
}

func writeView(w http.ResponseWriter, status int, snap syncengine.Snapshot) {
	w.Header().Set("ETag", etag(snap.Version))
	w.Header().Set("Cache-Control", "no-cache")
	if !snap.LastModified.IsZero() {
		w.Header().Set("Last-Modified", snap.LastModified.UTC().Format(http.TimeFormat))
	}
	comments := snap.Comments
	if comments == nil {
		comments = []*comment.Comment{}
	}
	api.WriteJSON(w, status, viewResponse{Comments: comments, Version: snap.Version, LastModified: snap.LastModified})
}

func notModified(r *http.Request, version uint64) bool {
	want := etag(version)
	for _, tag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == want || tag == "*" {
			return true
		}
	}
	return false
}

// List handles GET /v1/comments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.comments.View()
	if notModified(r, snap.Version) {
		w.Header().Set("ETag", etag(snap.Version))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeView(w, http.StatusOK, snap)
}

// ForceRefresh handles POST /v1/comments/refresh
func (h *Handler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.comments.Refresh(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeView(w, http.StatusOK, h.comments.View())
}

// Create handles POST /v1/comments
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	created, err := h.comments.AddComment(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

// Reply handles POST /v1/comments/{comment_id}/replies
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	parentID, ok := commentID(w, r)
	if !ok {
		return
	}
	d, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	created, err := h.comments.AddReply(r.Context(), parentID, d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

// Report handles POST /v1/comments/{comment_id}/report
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := commentID(w, r)
	if !ok {
		return
	}
	if err := h.comments.Report(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /v1/comments/{comment_id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := commentID(w, r)
	if !ok {
		return
	}
	ids, err := h.comments.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, deleteResponse{Deleted: ids})
}

func commentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "comment_id"))
	if id == "" {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	return id, true
}

// readDraft accepts either a JSON body or a multipart form with an optional
// "image" file part.
func (h *Handler) readDraft(w http.ResponseWriter, r *http.Request) (syncengine.Draft, bool) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var (
		req draftRequest
		img *images.Image
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxImageBytes+1<<20)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				api.WriteError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "image exceeds the size limit", rid, nil)
				return syncengine.Draft{}, false
			}
			api.BadRequest(w, "INVALID_FORM", "invalid multipart form", rid, nil)
			return syncengine.Draft{}, false
		}
		req.Text = r.FormValue("text")
		req.Username = r.FormValue("username")

		var ok bool
		if img, ok = h.readImage(w, r, rid); !ok {
			return syncengine.Draft{}, false
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := api.DecodeJSON(r, &req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return syncengine.Draft{}, false
		}
	}

	if details := h.validate.check(req); details != nil {
		api.BadRequest(w, "VALIDATION", "invalid comment", rid, details)
		return syncengine.Draft{}, false
	}
	return syncengine.Draft{Text: req.Text, Username: req.Username, Image: img}, true
}

func (h *Handler) readImage(w http.ResponseWriter, r *http.Request, rid string) (*images.Image, bool) {
	file, hdr, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		api.BadRequest(w, "INVALID_IMAGE", "could not read image", rid, nil)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxImageBytes+1))
	if err != nil {
		api.BadRequest(w, "INVALID_IMAGE", "could not read image", rid, nil)
		return nil, false
	}
	if int64(len(data)) > h.opts.MaxImageBytes {
		api.WriteError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "image exceeds the size limit", rid,
			map[string]any{"max_bytes": h.opts.MaxImageBytes})
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		api.WriteError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_IMAGE", "attachment must be an image", rid, nil)
		return nil, false
	}
	return &images.Image{Data: data, MimeType: mimeType}, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, syncengine.ErrEmptyText), errors.Is(err, syncengine.ErrNoParent), errors.Is(err, source.ErrEmptyIDs):
		api.BadRequest(w, "VALIDATION", err.Error(), rid, nil)
	case errors.Is(err, source.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "comment not found", rid)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.log.Error("comment operation failed", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		api.Unavailable(w, "comment store unavailable", rid)
	}
}
