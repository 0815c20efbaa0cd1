package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Model parameters for the chat completion stream.
const (
	chatModel       = openai.GPT4oMini
	chatTemperature = 0.3
	chatMaxTokens   = 1000
)

// Streamer runs one streaming completion. onDelta receives each content
// delta; returning false stops consumption and closes the upstream
// connection (client disconnect). The accumulated response so far is
// returned either way.
type Streamer interface {
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(delta string) bool) (string, error)
}

// Summarizer produces a one-shot video summary.
type Summarizer interface {
	Summarize(ctx context.Context, title, transcriptText string) (string, error)
}

// openaiStreamer is the production Streamer and Summarizer over the OpenAI API.
type openaiStreamer struct {
	client *openai.Client
}

// NewStreamer creates the production LLM client. The returned value also
// implements Summarizer.
func NewStreamer(apiKey string, httpClient *http.Client) Streamer {
	cfg := openai.DefaultConfig(apiKey)
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &openaiStreamer{client: openai.NewClientWithConfig(cfg)}
}

// summaryTranscriptCap truncates transcripts fed to the summarizer. The cut
// is a silent heuristic and is documented at the API surface.
const summaryTranscriptCap = 8000

// Summarize produces a short summary of a video from its transcript.
func (s *openaiStreamer) Summarize(ctx context.Context, title, transcriptText string) (string, error) {
	if len(transcriptText) > summaryTranscriptCap {
		transcriptText = transcriptText[:summaryTranscriptCap]
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       chatModel,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Summarize the following video transcript in a few short paragraphs. Mention the main topics in the order they are covered."},
			{Role: openai.ChatMessageRoleUser, Content: "Video: " + title + "\n\n" + transcriptText},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summary completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (s *openaiStreamer) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(string) bool) (string, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if !onDelta(delta) {
			// Consumer cancelled; closing the stream drops the connection.
			return full.String(), nil
		}
	}
}
