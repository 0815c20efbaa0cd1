// Package transcript retrieves timed-text for videos and segments it into
// retrieval chunks.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchErrorKind classifies transcript retrieval failures for callers.
type FetchErrorKind string

const (
	// ErrNoTranscript: captions are absent or disabled for the video.
	ErrNoTranscript FetchErrorKind = "no_transcript"
	// ErrUnavailable: the video is private, deleted or region-restricted.
	ErrUnavailable FetchErrorKind = "unavailable"
	// ErrNetwork: DNS or transport failure.
	ErrNetwork FetchErrorKind = "network"
	// ErrRateLimited: upstream throttling persisted through all retries.
	ErrRateLimited FetchErrorKind = "rate_limited"
	// ErrUnknown: any other failure.
	ErrUnknown FetchErrorKind = "unknown"
)

// FetchError is a classified transcript retrieval failure.
type FetchError struct {
	Kind    FetchErrorKind
	VideoID string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcript fetch for %s failed (%s): %v", e.VideoID, e.Kind, e.Err)
	}
	return fmt.Sprintf("transcript fetch for %s failed (%s)", e.VideoID, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the fetch error kind, defaulting to unknown.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrUnknown
}

const (
	defaultTimedTextURL = "https://www.youtube.com/api/timedtext"

	retryInitialDelay = 5 * time.Second
	retryAttempts     = 3
)

// Fetcher retrieves timed-text tracks over HTTP.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	language   string
	sleep      func(time.Duration)
}

// NewFetcher creates a transcript fetcher.
func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		httpClient: httpClient,
		baseURL:    defaultTimedTextURL,
		language:   "en",
		sleep:      time.Sleep,
	}
}

// timedTextResponse mirrors the provider's json3 track format.
type timedTextResponse struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// Fetch retrieves the caption track for a video as ordered segments with
// integer-floored second timestamps. Rate-limit responses are retried with
// exponential backoff (5s initial, doubling, up to 3 attempts).
func (f *Fetcher) Fetch(ctx context.Context, videoID string) ([]Segment, error) {
	delay := retryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		segments, retry, err := f.fetchOnce(ctx, videoID)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		if attempt < retryAttempts {
			log.Printf("[TRANSCRIPT] Rate limited fetching %s (attempt %d/%d), backing off %v.", videoID, attempt, retryAttempts, delay)
			f.sleep(delay)
			delay *= 2
		}
	}
	return nil, &FetchError{Kind: ErrRateLimited, VideoID: videoID, Err: lastErr}
}

// fetchOnce performs a single request. The second return value reports
// whether the failure is retryable (upstream throttling).
func (f *Fetcher) fetchOnce(ctx context.Context, videoID string) ([]Segment, bool, error) {
	q := url.Values{}
	q.Set("v", videoID)
	q.Set("lang", f.language)
	q.Set("fmt", "json3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, &FetchError{Kind: ErrUnknown, VideoID: videoID, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, &FetchError{Kind: ErrNetwork, VideoID: videoID, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to body parsing.
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, true, &FetchError{Kind: ErrRateLimited, VideoID: videoID}
	case http.StatusNotFound:
		return nil, false, &FetchError{Kind: ErrNoTranscript, VideoID: videoID, Err: errors.New("no caption track")}
	case http.StatusForbidden, http.StatusGone:
		return nil, false, &FetchError{Kind: ErrUnavailable, VideoID: videoID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, false, &FetchError{Kind: ErrUnknown, VideoID: videoID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &FetchError{Kind: ErrNetwork, VideoID: videoID, Err: err}
	}
	// The provider answers 200 with an empty body when captions are disabled.
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, false, &FetchError{Kind: ErrNoTranscript, VideoID: videoID, Err: errors.New("captions disabled")}
	}

	var track timedTextResponse
	if err := json.Unmarshal(body, &track); err != nil {
		return nil, false, &FetchError{Kind: ErrUnknown, VideoID: videoID, Err: err}
	}

	var segments []Segment
	for _, ev := range track.Events {
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			StartSeconds: int(ev.StartMs / 1000),
			EndSeconds:   int((ev.StartMs + ev.DurationMs) / 1000),
			Text:         text,
		})
	}

	if len(segments) == 0 {
		return nil, false, &FetchError{Kind: ErrNoTranscript, VideoID: videoID, Err: errors.New("caption track is empty")}
	}
	return segments, false, nil
}
