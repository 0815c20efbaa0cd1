package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mofekayode/videosift-backend/internal/cache"
	"github.com/mofekayode/videosift-backend/internal/models"
)

// defaultRetrievalK is how many chunks are pulled into the chat context when
// no override is configured.
const defaultRetrievalK = 10

// answerCacheTTL governs the repeated-question cache.
const answerCacheTTL = cache.DefaultTTL

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetVideoByExternalID(externalID string) (*models.Video, error)
	GetChannelByExternalID(externalID string) (*models.Channel, error)
	GetSessionByUUID(uuid string) (*models.ChatSession, error)
	CreateSession(uuid string, userID *string, videoID, channelID *int64, title string) (*models.ChatSession, error)
	InsertMessage(sessionID int64, role, content string, citations models.Citations) (*models.ChatMessage, error)
	BumpSessionActivity(sessionID int64, messageDelta int) error
}

// Retriever is the hybrid search surface.
type Retriever interface {
	VideoSearch(ctx context.Context, videoID int64, query string, k int) ([]models.SearchResult, error)
	ChannelSearch(ctx context.Context, channelID int64, query string, k int) ([]models.SearchResult, error)
}

// AnswerCache fronts repeated questions about the same target.
type AnswerCache interface {
	Get(key string) []byte
	Set(key string, value []byte, ttl time.Duration)
}

// Sink is the transport-facing capability for one stream: the HTTP layer
// adapts it onto SSE.
type Sink interface {
	WriteFrame(frame models.StreamFrame) error
	Close()
}

// Orchestrator runs streaming chat turns.
type Orchestrator struct {
	store     Store
	retriever Retriever
	cache     AnswerCache
	streamer  Streamer
	registry  *StreamRegistry
	topK      int
}

// NewOrchestrator wires a chat orchestrator. A non-positive topK falls back
// to the default retrieval depth.
func NewOrchestrator(store Store, retriever Retriever, answerCache AnswerCache, streamer Streamer, registry *StreamRegistry, topK int) *Orchestrator {
	if topK <= 0 {
		topK = defaultRetrievalK
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		cache:     answerCache,
		streamer:  streamer,
		registry:  registry,
		topK:      topK,
	}
}

// Registry exposes the active-stream registry to the transport layer.
func (o *Orchestrator) Registry() *StreamRegistry {
	return o.registry
}

// cachedAnswer is the cache payload for a repeated question.
type cachedAnswer struct {
	Content   string            `json:"content"`
	Citations []models.Citation `json:"citations"`
}

// chatTarget resolves the video- or channel-scoped pieces of a turn.
type chatTarget struct {
	cacheScope string
	videoID    *int64
	channelID  *int64
	retrieve   func(ctx context.Context, query string) ([]models.SearchResult, error)
	degenerate func() string
	prompt     func(results []models.SearchResult) string
}

// StreamVideoChat runs one streaming turn scoped to a single video.
func (o *Orchestrator) StreamVideoChat(ctx context.Context, req models.ChatStreamRequest, userID *string, streamID string, sink Sink) {
	video, err := o.store.GetVideoByExternalID(req.VideoID)
	if err != nil || video == nil {
		o.failBeforeStream(streamID, sink, fmt.Errorf("video %s not found", req.VideoID), err)
		return
	}

	target := chatTarget{
		cacheScope: "video:" + video.ExternalID,
		videoID:    &video.ID,
		retrieve: func(ctx context.Context, query string) ([]models.SearchResult, error) {
			return o.retriever.VideoSearch(ctx, video.ID, query, o.topK)
		},
		degenerate: func() string { return BuildDegenerateSystemPrompt(video.Title, video.Description) },
		prompt:     func(results []models.SearchResult) string { return BuildVideoSystemPrompt(video.Title, results) },
	}
	o.stream(ctx, req, userID, streamID, sink, target)
}

// StreamChannelChat runs one streaming turn scoped to a whole channel.
func (o *Orchestrator) StreamChannelChat(ctx context.Context, req models.ChatStreamRequest, userID *string, streamID string, sink Sink) {
	channel, err := o.store.GetChannelByExternalID(req.ChannelID)
	if err != nil || channel == nil {
		o.failBeforeStream(streamID, sink, fmt.Errorf("channel %s not found", req.ChannelID), err)
		return
	}

	target := chatTarget{
		cacheScope: "channel:" + channel.ExternalID,
		channelID:  &channel.ID,
		retrieve: func(ctx context.Context, query string) ([]models.SearchResult, error) {
			return o.retriever.ChannelSearch(ctx, channel.ID, query, o.topK)
		},
		degenerate: func() string { return BuildDegenerateSystemPrompt(channel.Title, "") },
		prompt:     func(results []models.SearchResult) string { return BuildChannelSystemPrompt(channel.Title, results) },
	}
	o.stream(ctx, req, userID, streamID, sink, target)
}

func (o *Orchestrator) stream(ctx context.Context, req models.ChatStreamRequest, userID *string, streamID string, sink Sink, target chatTarget) {
	defer sink.Close()
	defer o.registry.Remove(streamID)

	// 1. Locate the last user message; without one there is nothing to do.
	lastUser := lastUserMessage(req.Messages)
	if lastUser == "" {
		o.writeDone(sink, nil)
		o.registry.Complete(streamID)
		return
	}

	// 2. Cache probe keyed on the target and the question.
	cacheKey := cache.Key("chat", target.cacheScope, lastUser)
	if cached := o.cache.Get(cacheKey); cached != nil {
		var answer cachedAnswer
		if err := json.Unmarshal(cached, &answer); err == nil {
			o.replayCached(ctx, req, userID, streamID, sink, target, answer)
			return
		}
	}

	// 3. Retrieve context; degrade to metadata when the corpus is empty.
	results, err := target.retrieve(ctx, lastUser)
	if err != nil {
		log.Printf("!!! [CHAT] Retrieval for stream %s failed: %v", streamID, err)
		o.writeError(sink, "retrieval failed")
		o.registry.Fail(streamID)
		return
	}

	// 4. Compose the prompt; client messages are appended verbatim.
	var systemPrompt string
	if len(results) == 0 {
		systemPrompt = target.degenerate()
	} else {
		systemPrompt = target.prompt(results)
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// 5-6. Stream deltas, checking the active-stream flag between each.
	response, streamErr := o.streamer.StreamChat(ctx, messages, func(delta string) bool {
		if !o.registry.IsActive(streamID) {
			return false
		}
		if err := sink.WriteFrame(contentFrame(delta)); err != nil {
			o.registry.Cancel(streamID)
			return false
		}
		return true
	})

	// A cancelled stream is abandoned: no persistence, no final frame.
	if !o.registry.IsActive(streamID) {
		log.Printf("[CHAT] Stream %s cancelled by client; abandoning turn.", streamID)
		return
	}
	if streamErr != nil {
		log.Printf("!!! [CHAT] LLM stream %s failed: %v", streamID, streamErr)
		o.writeError(sink, "The model stream failed. Please retry.")
		o.registry.Fail(streamID)
		return
	}

	// 7. Merge extracted and context citations.
	citations := MergeCitations(ExtractCitations(response), ContextCitations(results))

	// 8. Persist both turns and bump the session.
	o.persistTurn(ctx, req, userID, target, lastUser, response, citations)

	// Cache the answer for repeated questions.
	if payload, err := json.Marshal(cachedAnswer{Content: response, Citations: citations}); err == nil {
		o.cache.Set(cacheKey, payload, answerCacheTTL)
	}

	// 9. Final frame.
	o.writeDone(sink, citations)
	o.registry.Complete(streamID)
}

// replayCached serves a cache hit as a single content frame plus done frame,
// still persisting the turn.
func (o *Orchestrator) replayCached(ctx context.Context, req models.ChatStreamRequest, userID *string, streamID string, sink Sink, target chatTarget, answer cachedAnswer) {
	if !o.registry.IsActive(streamID) {
		return
	}
	if err := sink.WriteFrame(contentFrame(answer.Content)); err != nil {
		o.registry.Cancel(streamID)
		return
	}
	o.persistTurn(ctx, req, userID, target, lastUserMessage(req.Messages), answer.Content, answer.Citations)
	o.writeDone(sink, answer.Citations)
	o.registry.Complete(streamID)
}

func (o *Orchestrator) persistTurn(ctx context.Context, req models.ChatStreamRequest, userID *string, target chatTarget, userText, response string, citations []models.Citation) {
	session, err := o.resolveSession(req, userID, target, userText)
	if err != nil {
		log.Printf("!!! [CHAT] Failed to resolve session: %v", err)
		return
	}
	if _, err := o.store.InsertMessage(session.ID, "user", userText, nil); err != nil {
		log.Printf("!!! [CHAT] Failed to persist user turn: %v", err)
		return
	}
	if _, err := o.store.InsertMessage(session.ID, "assistant", response, models.Citations(citations)); err != nil {
		log.Printf("!!! [CHAT] Failed to persist assistant turn: %v", err)
		return
	}
	if err := o.store.BumpSessionActivity(session.ID, 2); err != nil {
		log.Printf("!!! [CHAT] Failed to bump session %d: %v", session.ID, err)
	}
}

// resolveSession loads the referenced session or creates a fresh one titled
// after the first question.
func (o *Orchestrator) resolveSession(req models.ChatStreamRequest, userID *string, target chatTarget, userText string) (*models.ChatSession, error) {
	if req.SessionID != nil && *req.SessionID != "" {
		session, err := o.store.GetSessionByUUID(*req.SessionID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	title := userText
	if len(title) > 80 {
		title = title[:80]
	}
	return o.store.CreateSession(uuid.NewString(), userID, target.videoID, target.channelID, title)
}

func (o *Orchestrator) failBeforeStream(streamID string, sink Sink, userErr error, cause error) {
	defer sink.Close()
	defer o.registry.Remove(streamID)
	if cause != nil {
		log.Printf("!!! [CHAT] Stream %s failed before start: %v", streamID, cause)
	}
	o.writeError(sink, userErr.Error())
	o.registry.Fail(streamID)
}

func (o *Orchestrator) writeDone(sink Sink, citations []models.Citation) {
	done := true
	if citations == nil {
		citations = []models.Citation{}
	}
	if err := sink.WriteFrame(models.StreamFrame{Type: "done", Citations: citations, Done: &done}); err != nil {
		log.Printf("!!! [CHAT] Failed to write done frame: %v", err)
	}
}

func (o *Orchestrator) writeError(sink Sink, message string) {
	if err := sink.WriteFrame(models.StreamFrame{Type: "error", Error: message}); err != nil {
		log.Printf("!!! [CHAT] Failed to write error frame: %v", err)
	}
}

func contentFrame(delta string) models.StreamFrame {
	done := false
	return models.StreamFrame{Type: "content", Content: delta, Done: &done}
}

// lastUserMessage returns the content of the final user-role message.
func lastUserMessage(messages []models.ChatTurn) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
