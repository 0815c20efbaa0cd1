package transcript

import (
	"fmt"
	"strings"
)

// Segment is one caption line from the transcript provider. Times are floored
// to integer seconds.
type Segment struct {
	StartSeconds int
	EndSeconds   int
	Text         string
}

// Chunk boundaries: a chunk is cut at a sentence terminator once it is at
// least minChunkBytes long, unconditionally at maxChunkBytes, and at the end
// of the transcript.
const (
	minChunkBytes = 1000
	maxChunkBytes = 2000

	// maxKeywords caps the keyword set stored per chunk.
	maxKeywords = 10

	// previewBytes is how much chunk text is kept inline for keyword-hit
	// scoring; full text lives in the transcript blob.
	previewBytes = 200
)

// Chunk is one deterministic slice of a transcript: the buffered `[MM:SS]
// text` lines, its time span, and its byte span inside the transcript blob.
type Chunk struct {
	Text       string
	StartTime  int
	EndTime    int
	ByteOffset int
	ByteLength int
	Keywords   []string
}

// FormatTimestamp renders whole seconds as MM:SS. Minutes are not capped at
// two digits; seconds are zero-padded.
func FormatTimestamp(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatLine renders one transcript line exactly as it is stored in the blob.
func FormatLine(startSeconds int, text string) string {
	return "[" + FormatTimestamp(startSeconds) + "] " + text + "\n"
}

// BuildChunks segments ordered caption segments into chunks. The same input
// always produces the same boundaries. Byte offsets are cumulative over the
// emitted chunk texts, so concatenating every chunk's Text reproduces the
// transcript blob byte-for-byte.
func BuildChunks(segments []Segment) []Chunk {
	var chunks []Chunk
	var buf strings.Builder
	var startTime, endTime int
	byteOffset := 0

	flush := func() {
		text := buf.String()
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Text:       text,
			StartTime:  startTime,
			EndTime:    endTime,
			ByteOffset: byteOffset,
			ByteLength: len(text),
			Keywords:   ExtractKeywords(text, maxKeywords),
		})
		byteOffset += len(text)
		buf.Reset()
	}

	for i, seg := range segments {
		if buf.Len() == 0 {
			startTime = seg.StartSeconds
		}
		endTime = seg.EndSeconds
		buf.WriteString(FormatLine(seg.StartSeconds, seg.Text))

		natural := endsWithSentenceTerminator(seg.Text)
		long := buf.Len() >= minChunkBytes
		tooLong := buf.Len() >= maxChunkBytes
		last := i == len(segments)-1

		if (natural && long) || tooLong || last {
			flush()
		}
	}
	return chunks
}

// Preview returns the inline text preview stored on a chunk row.
func (c Chunk) Preview() string {
	if len(c.Text) <= previewBytes {
		return c.Text
	}
	// Cut on a rune boundary so the preview stays valid UTF-8.
	cut := previewBytes
	for cut > 0 && (c.Text[cut]&0xC0) == 0x80 {
		cut--
	}
	return c.Text[:cut]
}

// AssembleBlob concatenates the chunk texts into the transcript blob content.
func AssembleBlob(chunks []Chunk) []byte {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return []byte(b.String())
}

// endsWithSentenceTerminator reports whether the last non-space character of
// the text is '.', '!' or '?'.
func endsWithSentenceTerminator(text string) bool {
	trimmed := strings.TrimRight(text, " \t")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
