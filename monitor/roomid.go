package monitor

import (
	"regexp"
	"strings"
)

var roomIDPattern = regexp.MustCompile(`(?:live\.douyin\.com/|follow/live/)(\d{8,15})`)

// ExtractRoomID pulls the numeric room id out of a pasted room URL. Input that
// does not match (a bare id, or anything else) is returned trimmed but
// otherwise unchanged.
func ExtractRoomID(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := roomIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}
