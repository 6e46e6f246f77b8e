package domain

import (
	"errors"
	"strings"
)

// ErrNoCaptions is returned by caption providers when a video exposes no
// usable caption track.
var ErrNoCaptions = errors.New("no captions available")

// TranscriptEntry is one caption unit as returned by the caption provider.
// Duration and Offset are in seconds.
type TranscriptEntry struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Offset   float64 `json:"offset"`
}

// JoinTranscript flattens caption entries into a single transcript blob.
func JoinTranscript(entries []TranscriptEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
