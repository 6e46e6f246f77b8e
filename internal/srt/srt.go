// Package srt flattens SubRip subtitle documents into plain text.
package srt

import "strings"

const timeRangeMarker = "-->"

// Extract returns the subtitle text of doc as a single space-separated
// string. Sequence indices and time ranges are dropped; everything else that
// is not blank is kept in document order. Malformed input is never an error.
func Extract(doc string) string {
	var sb strings.Builder
	inBlock := false

	for _, raw := range strings.Split(doc, "\n") {
		line := cleanLine(raw)
		switch {
		case line == "":
			inBlock = false
			continue
		case isSequenceIndex(line):
			continue
		case strings.Contains(line, timeRangeMarker):
			continue
		default:
			inBlock = true
		}

		if inBlock {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(line)
		}
	}
	return sb.String()
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(s)
}

// isSequenceIndex reports whether s is made of ASCII digits only, of any length.
func isSequenceIndex(s string) bool {
	return s != "" && strings.TrimLeft(s, "0123456789") == ""
}
