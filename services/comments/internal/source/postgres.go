package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{"id", "text", "username", "parent_id", "is_reported", "image_url", "created_at"}

// Postgres persists comments in the comments table. Successful writes are
// announced on the attached Feed.
type Postgres struct {
	pool *pgxpool.Pool
	feed Feed
	log  *zap.Logger
}

// NewPostgres creates a source backed by pool. feed may be nil, in which case
// SubscribeChanges fails and writes are not announced.
func NewPostgres(pool *pgxpool.Pool, feed Feed, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{pool: pool, feed: feed, log: log}
}

func listQuery() (string, []any, error) {
	return psql.Select(columns...).
		From("comments").
		OrderBy("created_at DESC", "id DESC").
		ToSql()
}

func insertQuery(r comment.Row) (string, []any, error) {
	cols := []string{"text", "username", "parent_id", "image_url"}
	vals := []any{r.Text, r.Username, r.ParentID, r.ImageURL}
	if r.ID != "" {
		cols = append(cols, "id")
		vals = append(vals, r.ID)
	}
	if !r.CreatedAt.IsZero() {
		cols = append(cols, "created_at")
		vals = append(vals, r.CreatedAt)
	}
	return psql.Insert("comments").
		Columns(cols...).
		Values(vals...).
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
}

func updateQuery(id string, p Patch) (string, []any, error) {
	q := psql.Update("comments").Where(sq.Eq{"id": id})
	if p.IsReported != nil {
		q = q.Set("is_reported", *p.IsReported)
	}
	return q.ToSql()
}

func deleteQuery(ids []string) (string, []any, error) {
	return psql.Delete("comments").Where(sq.Eq{"id": ids}).ToSql()
}

func scanRow(row pgx.CollectableRow) (comment.Row, error) {
	var r comment.Row
	err := row.Scan(&r.ID, &r.Text, &r.Username, &r.ParentID, &r.IsReported, &r.ImageURL, &r.CreatedAt)
	return r, err
}

func (s *Postgres) ListComments(ctx context.Context) ([]comment.Row, error) {
	q, args, err := listQuery()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRow)
}

func (s *Postgres) InsertComment(ctx context.Context, r comment.Row) (comment.Row, error) {
	q, args, err := insertQuery(r)
	if err != nil {
		return comment.Row{}, err
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return comment.Row{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanRow)
	if err != nil {
		if isForeignKeyViolation(err) {
			return comment.Row{}, fmt.Errorf("parent %s: %w", deref(r.ParentID), ErrNotFound)
		}
		return comment.Row{}, err
	}
	s.announce(ctx, Change{Op: OpInsert, IDs: []string{out.ID}})
	return out, nil
}

func (s *Postgres) UpdateComment(ctx context.Context, id string, p Patch) error {
	if p.IsReported == nil {
		return nil
	}
	q, args, err := updateQuery(id, p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.announce(ctx, Change{Op: OpUpdate, IDs: []string{id}})
	return nil
}

// DeleteComments issues a single DELETE for all ids. The parent_id foreign
// key is checked at the end of the statement, so a reply written after the
// cascade was computed makes the whole batch fail instead of stranding it.
func (s *Postgres) DeleteComments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyIDs
	}
	q, args, err := deleteQuery(ids)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return err
	}
	s.announce(ctx, Change{Op: OpDelete, IDs: ids})
	return nil
}

func (s *Postgres) SubscribeChanges(fn func(Change)) (func(), error) {
	if s.feed == nil {
		return nil, errors.New("postgres source: no change feed configured")
	}
	return s.feed.Subscribe(fn)
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) announce(ctx context.Context, ch Change) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, ch); err != nil {
		s.log.Warn("change feed publish failed", zap.String("op", string(ch.Op)), zap.Error(err))
	}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
