package chat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// timestampRe matches bracketed or parenthesized timestamps the model emits,
// e.g. [12:34], (1:02:03).
var timestampRe = regexp.MustCompile(`[\[(](\d{1,2}:)?\d{1,2}:\d{2}[\])]`)

// ExtractCitations scans the assistant's response for timestamps and returns
// one extracted citation per occurrence, in order, with the parsed seconds
// and a short surrounding excerpt.
func ExtractCitations(response string) []models.Citation {
	matches := timestampRe.FindAllStringIndex(response, -1)
	out := make([]models.Citation, 0, len(matches))
	for _, m := range matches {
		raw := response[m[0]:m[1]]
		stamp := strings.Trim(raw, "[]()")
		out = append(out, models.Citation{
			Timestamp: stamp,
			Seconds:   parseTimestampSeconds(stamp),
			Text:      excerptAround(response, m[0], m[1]),
		})
	}
	return out
}

// parseTimestampSeconds converts H:MM:SS or MM:SS to whole seconds.
func parseTimestampSeconds(stamp string) int {
	parts := strings.Split(stamp, ":")
	seconds := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		seconds = seconds*60 + n
	}
	return seconds
}

// excerptAround returns up to 80 bytes of the response on either side of a
// timestamp match, trimmed of surrounding whitespace.
func excerptAround(response string, start, end int) string {
	const radius = 80
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(response) {
		hi = len(response)
	}
	return strings.TrimSpace(response[lo:hi])
}

// MergeCitations appends context citations after the extracted ones, skipping
// context entries whose span is already covered by an extracted timestamp.
func MergeCitations(extracted []models.Citation, contextCitations []models.Citation) []models.Citation {
	out := make([]models.Citation, 0, len(extracted)+len(contextCitations))
	out = append(out, extracted...)
	for _, c := range contextCitations {
		covered := false
		for _, e := range extracted {
			if e.Seconds >= c.StartTime && e.Seconds <= c.EndTime {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, c)
		}
	}
	return out
}
