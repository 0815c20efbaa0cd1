package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mofekayode/videosift-backend/internal/cache"
	"github.com/mofekayode/videosift-backend/internal/chat"
	"github.com/mofekayode/videosift-backend/internal/database"
	"github.com/mofekayode/videosift-backend/internal/errsink"
	"github.com/mofekayode/videosift-backend/internal/middleware"
	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/queue"
	"github.com/mofekayode/videosift-backend/internal/storage"
)

// VideoHandler serves video ingestion requests and cached summaries.
type VideoHandler struct {
	DB         *database.DB
	Queue      *queue.Service
	Blobs      *storage.BlobService
	Cache      *cache.Cache
	Summarizer chat.Summarizer
	Validate   *validator.Validate
	Errors     *errsink.Sink
	Production bool
}

// NewVideoHandler creates a VideoHandler.
func NewVideoHandler(db *database.DB, q *queue.Service, blobs *storage.BlobService, c *cache.Cache, summarizer chat.Summarizer, validate *validator.Validate, errors *errsink.Sink, production bool) *VideoHandler {
	return &VideoHandler{
		DB:         db,
		Queue:      q,
		Blobs:      blobs,
		Cache:      c,
		Summarizer: summarizer,
		Validate:   validate,
		Errors:     errors,
		Production: production,
	}
}

// Process enqueues a single video for ingestion.
func (h *VideoHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", false)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error(), false)
		return
	}

	user := middleware.UserFrom(r.Context())
	result, err := h.Queue.EnqueueVideo(r.Context(), req.VideoID, requesterOf(user), req.Priority)
	if err != nil {
		h.Errors.Capture(err, errsink.KindStore, map[string]interface{}{"videoId": req.VideoID})
		respondError(w, http.StatusInternalServerError, "could not enqueue video", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// summaryResponse is the cached summary payload. Summaries are generated from
// the first 8000 characters of the transcript.
type summaryResponse struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Truncated bool   `json:"truncated"`
	Cached    bool   `json:"cached"`
}

// Summary returns a cached or freshly generated summary for a processed video.
func (h *VideoHandler) Summary(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if videoID == "" {
		respondError(w, http.StatusBadRequest, "missing video id", false)
		return
	}

	cacheKey := cache.Key("summary", videoID)
	if cached := h.Cache.Get(cacheKey); cached != nil {
		var resp summaryResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			resp.Cached = true
			respondJSON(w, http.StatusOK, resp)
			return
		}
	}

	video, err := h.DB.GetVideoByExternalID(videoID)
	if err != nil {
		h.Errors.Capture(err, errsink.KindStore, map[string]interface{}{"videoId": videoID})
		respondError(w, http.StatusInternalServerError, "could not load video", !h.Production)
		return
	}
	if video == nil {
		respondError(w, http.StatusNotFound, "video not found", false)
		return
	}
	if !video.TranscriptCached || video.TranscriptBlobPath == nil {
		respondError(w, http.StatusConflict, "video transcript is not processed yet", false)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	blob, err := h.Blobs.DownloadTranscript(ctx, *video.TranscriptBlobPath)
	if err != nil {
		h.Errors.Capture(err, errsink.KindStore, map[string]interface{}{"videoId": videoID})
		respondError(w, http.StatusInternalServerError, "could not read transcript", !h.Production)
		return
	}

	summary, err := h.Summarizer.Summarize(ctx, video.Title, string(blob))
	if err != nil {
		h.Errors.Capture(err, errsink.KindLLM, map[string]interface{}{"videoId": videoID})
		respondError(w, http.StatusBadGateway, "summary generation failed", !h.Production)
		return
	}

	resp := summaryResponse{
		VideoID:   videoID,
		Title:     video.Title,
		Summary:   summary,
		Truncated: len(blob) > 8000,
	}
	if payload, err := json.Marshal(resp); err == nil {
		h.Cache.Set(cacheKey, payload, cache.VideoSummaryTTL)
	}
	respondJSON(w, http.StatusOK, resp)
}
