// Package comment holds the comment data model and the pure transforms that
// turn a flat row snapshot into an ordered reply forest.
package comment

import "time"

// Row is a single persisted comment record as stored by the record source.
// Storage is flat; the tree shape is carried only by ParentID.
type Row struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Username   string    `json:"username"`
	ParentID   *string   `json:"parent_id"`
	IsReported bool      `json:"is_reported"`
	ImageURL   *string   `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comment is a node of the rendered forest. Replies are owned by the node
// and are never shared between parents.
type Comment struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Username   string     `json:"username"`
	Timestamp  time.Time  `json:"timestamp"`
	ParentID   *string    `json:"parent_id,omitempty"`
	Replies    []*Comment `json:"replies"`
	IsReported bool       `json:"is_reported"`
	ImageURL   *string    `json:"image_url,omitempty"`
}

func newNode(r Row) *Comment {
	return &Comment{
		ID:         r.ID,
		Text:       r.Text,
		Username:   r.Username,
		Timestamp:  r.CreatedAt,
		ParentID:   r.ParentID,
		Replies:    []*Comment{},
		IsReported: r.IsReported,
		ImageURL:   r.ImageURL,
	}
}

// Row converts the node back into its flat record, without replies.
func (c *Comment) Row() Row {
	return Row{
		ID:         c.ID,
		Text:       c.Text,
		Username:   c.Username,
		ParentID:   c.ParentID,
		IsReported: c.IsReported,
		ImageURL:   c.ImageURL,
		CreatedAt:  c.Timestamp,
	}
}

// IsRoot reports whether the row carries no parent reference.
func (r Row) IsRoot() bool {
	return r.ParentID == nil || *r.ParentID == ""
}
