// Package youtube wraps the video metadata provider: channel handle
// resolution and reverse-chronological video listing.
package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	youtubev3 "google.golang.org/api/youtube/v3"
)

// ChannelInfo is the resolved identity of a channel.
type ChannelInfo struct {
	ID    string
	Title string
}

// VideoInfo is the listing metadata for one video.
type VideoInfo struct {
	ID              string
	Title           string
	Description     string
	DurationSeconds int
	PublishedAt     time.Time
}

// Client talks to the YouTube Data API.
type Client struct {
	svc *youtubev3.Service
}

// NewClient creates a metadata client authenticated by API key.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	svc, err := youtubev3.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ResolveChannel resolves a channel reference - a raw channel id (UC...) or a
// handle (@name or bare name) - to its canonical id and title.
func (c *Client) ResolveChannel(ctx context.Context, ref string) (*ChannelInfo, error) {
	call := c.svc.Channels.List([]string{"id", "snippet"}).Context(ctx).MaxResults(1)
	if strings.HasPrefix(ref, "UC") && len(ref) == 24 {
		call = call.Id(ref)
	} else {
		call = call.ForHandle(strings.TrimPrefix(ref, "@"))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("channel lookup for %q failed: %w", ref, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %q not found", ref)
	}
	item := resp.Items[0]
	return &ChannelInfo{ID: item.Id, Title: item.Snippet.Title}, nil
}

// ListVideos returns up to max of the channel's videos ordered by publish
// date descending. When publishedAfter is non-nil only newer videos are
// returned, which the refresh tick uses to pick up new uploads.
func (c *Client) ListVideos(ctx context.Context, channelID string, max int64, publishedAfter *time.Time) ([]VideoInfo, error) {
	search := c.svc.Search.List([]string{"id"}).
		Context(ctx).
		ChannelId(channelID).
		Type("video").
		Order("date").
		MaxResults(max)
	if publishedAfter != nil {
		search = search.PublishedAfter(publishedAfter.UTC().Format(time.RFC3339))
	}

	searchResp, err := search.Do()
	if err != nil {
		return nil, fmt.Errorf("video listing for channel %s failed: %w", channelID, err)
	}

	var ids []string
	for _, item := range searchResp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// The search surface does not carry durations; hydrate via the videos
	// endpoint in one call.
	videosResp, err := c.svc.Videos.List([]string{"snippet", "contentDetails"}).
		Context(ctx).
		Id(ids...).
		Do()
	if err != nil {
		return nil, fmt.Errorf("video hydration for channel %s failed: %w", channelID, err)
	}

	byID := make(map[string]*youtubev3.Video, len(videosResp.Items))
	for _, v := range videosResp.Items {
		byID[v.Id] = v
	}

	// Preserve the search order (publish date descending).
	var out []VideoInfo
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			continue
		}
		published, _ := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
		out = append(out, VideoInfo{
			ID:              v.Id,
			Title:           v.Snippet.Title,
			Description:     v.Snippet.Description,
			DurationSeconds: ParseISODuration(v.ContentDetails.Duration),
			PublishedAt:     published,
		})
	}
	return out, nil
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration converts the API's ISO-8601 video duration (PT#H#M#S) to
// whole seconds. Malformed input yields 0.
func ParseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return h*3600 + min*60 + sec
}
