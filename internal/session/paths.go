package session

import (
	"path/filepath"
	"strings"
	"time"
)

// sanitizeLabel makes a label safe to use as a single path component:
// path separators, delimiter characters and control characters are
// replaced with '-'.
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "recording"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		if r < 0x20 {
			return '-'
		}
		return r
	}, label)
}

// trackPaths derives the deterministic output paths for one session.
// The uuid fragment keeps two sessions started within the same second
// from colliding.
func trackPaths(dir, label string, startedAt time.Time, idFragment string) (primary, secondary string) {
	base := sanitizeLabel(label) + "_" + startedAt.Format("20060102-150405") + "_" + idFragment
	primary = filepath.Join(dir, base+".wav")
	secondary = filepath.Join(dir, base+"_system.wav")
	return primary, secondary
}
