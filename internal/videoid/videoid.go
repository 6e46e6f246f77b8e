// Package videoid pulls YouTube video identifiers out of pasted URLs.
package videoid

import "regexp"

// Patterns are tried in order; the first capture group of the first match wins.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com|youtube-nocookie\.com)/watch\?(?:.*&)?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com|youtube-nocookie\.com)/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/live/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/v/([a-zA-Z0-9_-]{11})`),
}

// Extract returns the 11-character video id found in rawURL and true, or ""
// and false when no pattern matches.
func Extract(rawURL string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(rawURL); len(m) >= 2 {
			return m[1], true
		}
	}
	return "", false
}
