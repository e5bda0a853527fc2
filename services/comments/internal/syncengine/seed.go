package syncengine

import (
	"time"

	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
)

// Seed ids are fixed so seeding twice is a no-op.
const (
	SeedWelcomeID = "seed-welcome"
	SeedReplyID   = "seed-welcome-reply"
)

// Seed returns the rows shown when no view has ever been built: a welcome
// post from Admin and one reply.
func Seed(now time.Time) []comment.Row {
	parent := SeedWelcomeID
	return []comment.Row{
		{
			ID:        SeedWelcomeID,
			Text:      "Welcome to the Anonymous Comment Platform! Feel free to share your thoughts anonymously.",
			Username:  "Admin",
			CreatedAt: now.Add(-24 * time.Hour),
		},
		{
			ID:        SeedReplyID,
			Text:      "This is really cool! I love being able to share my thoughts without revealing my identity.",
			Username:  "Anonymous User",
			ParentID:  &parent,
			CreatedAt: now.Add(-12 * time.Hour),
		},
	}
}
