// Package pseudonym generates display names for anonymous posters.
package pseudonym

import (
	"fmt"
	"math/rand"
	"strings"
)

var adjectives = []string{
	"Anonymous", "Mysterious", "Secret", "Hidden", "Unknown",
	"Quiet", "Silent", "Stealthy", "Covert", "Private",
	"Invisible", "Unseen", "Shadow", "Ghost", "Phantom",
	"Whisper", "Echo", "Silhouette", "Veiled", "Masked",
}

var nouns = []string{
	"User", "Visitor", "Guest", "Stranger", "Observer",
	"Spectator", "Witness", "Viewer", "Reader", "Listener",
	"Traveler", "Explorer", "Wanderer", "Nomad", "Pilgrim",
	"Seeker", "Adventurer", "Voyager", "Rover", "Rambler",
}

// Generate returns a name like "SilentVoyager417".
func Generate() string {
	return fmt.Sprintf("%s%s%d",
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		rand.Intn(1000))
}

// OrGenerate returns name trimmed, or a fresh pseudonym when it is blank.
func OrGenerate(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return Generate()
}
