package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
)

// persona opens every system prompt.
const persona = `You are VideoSift, an assistant that answers questions about YouTube videos using only their transcripts.`

// citationRules instructs the model to emit bracketed timestamps the citation
// extractor can recover.
const citationRules = `When you reference something said in a video, cite the moment with a bracketed timestamp like [12:34] taken from the transcript lines you were given. Cite only timestamps that appear in the provided context. If the context does not answer the question, say so instead of guessing.`

// BuildVideoSystemPrompt composes the system prompt for single-video chat
// from the retrieved chunks, annotated with their timestamps.
func BuildVideoSystemPrompt(videoTitle string, results []models.SearchResult) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(citationRules)
	b.WriteString("\n\nVideo: ")
	b.WriteString(videoTitle)
	b.WriteString("\n\nTranscript context:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n--- [%s - %s] ---\n%s",
			transcript.FormatTimestamp(r.Chunk.StartTime),
			transcript.FormatTimestamp(r.Chunk.EndTime),
			strings.TrimSpace(r.FullText))
	}
	return b.String()
}

// BuildChannelSystemPrompt composes the system prompt for channel-wide chat,
// grouping context by video.
func BuildChannelSystemPrompt(channelTitle string, results []models.SearchResult) string {
	byVideo := make(map[string][]models.SearchResult)
	var order []string
	for _, r := range results {
		if _, ok := byVideo[r.VideoExtID]; !ok {
			order = append(order, r.VideoExtID)
		}
		byVideo[r.VideoExtID] = append(byVideo[r.VideoExtID], r)
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(citationRules)
	b.WriteString("\nName the video a timestamp belongs to when the channel has more than one.")
	b.WriteString("\n\nChannel: ")
	b.WriteString(channelTitle)
	b.WriteString("\n\nTranscript context, grouped by video:\n")

	for _, extID := range order {
		group := byVideo[extID]
		sort.Slice(group, func(a, b int) bool { return group[a].Chunk.StartTime < group[b].Chunk.StartTime })
		fmt.Fprintf(&b, "\n=== Video: %s ===\n", group[0].VideoTitle)
		for _, r := range group {
			fmt.Fprintf(&b, "\n--- [%s - %s] ---\n%s",
				transcript.FormatTimestamp(r.Chunk.StartTime),
				transcript.FormatTimestamp(r.Chunk.EndTime),
				strings.TrimSpace(r.FullText))
		}
	}
	return b.String()
}

// BuildDegenerateSystemPrompt covers videos that have no chunks yet: the
// model only sees the title and description.
func BuildDegenerateSystemPrompt(title, description string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nNo transcript context is available for this video yet; it may still be processing. Answer only from the metadata below and say that the transcript is not available.\n\nTitle: ")
	b.WriteString(title)
	if description != "" {
		b.WriteString("\nDescription: ")
		b.WriteString(description)
	}
	return b.String()
}

// ContextCitations converts retrieval results into the context citations
// attached to the assistant turn.
func ContextCitations(results []models.SearchResult) []models.Citation {
	out := make([]models.Citation, 0, len(results))
	for _, r := range results {
		text := r.FullText
		if len(text) > 200 {
			text = text[:200]
		}
		out = append(out, models.Citation{
			VideoID:    r.VideoExtID,
			VideoTitle: r.VideoTitle,
			StartTime:  r.Chunk.StartTime,
			EndTime:    r.Chunk.EndTime,
			Text:       strings.TrimSpace(text),
		})
	}
	return out
}
