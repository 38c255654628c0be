package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUnavailable covers every resolution failure: network errors, non-200
// responses, unknown video ids. Callers degrade to placeholder metadata.
var ErrUnavailable = errors.New("metadata unavailable")

const defaultVideosURL = "https://www.googleapis.com/youtube/v3/videos"

// YouTubeClient resolves a video id to its title and channel (used as the
// artist) through the Data API videos endpoint.
type YouTubeClient struct {
	apiKey    string
	videosURL string
	http      *http.Client
}

func NewYouTubeClient(apiKey, videosURL string) *YouTubeClient {
	if videosURL == "" {
		videosURL = defaultVideosURL
	}
	return &YouTubeClient{
		apiKey:    apiKey,
		videosURL: videosURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type ytVideosResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *YouTubeClient) Resolve(ctx context.Context, sourceRef string) (string, string, error) {
	if sourceRef == "" {
		return "", "", fmt.Errorf("%w: empty source ref", ErrUnavailable)
	}

	val := url.Values{}
	val.Set("part", "snippet")
	val.Set("id", sourceRef)
	val.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.videosURL+"?"+val.Encode(), nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: youtube status %d", ErrUnavailable, resp.StatusCode)
	}

	var body ytVideosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(body.Items) == 0 {
		return "", "", fmt.Errorf("%w: no video for id %s", ErrUnavailable, sourceRef)
	}

	sn := body.Items[0].Snippet
	return sn.Title, sn.ChannelTitle, nil
}
