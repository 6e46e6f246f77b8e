package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"transcript-chat/internal/domain"
)

var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Client fetches caption tracks for public videos.
type Client struct {
	httpClient *http.Client
	baseURL    string
	langs      []string
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at another host serving the watch page and
// the player endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

// WithLanguages sets the caption language preference, most preferred first.
func WithLanguages(langs ...string) Option {
	return func(c *Client) {
		if len(langs) > 0 {
			c.langs = langs
		}
	}
}

func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		langs:      []string{"en"},
		retry:      DefaultRetryConfig,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTranscript returns the caption entries of videoID in track order.
// The watch page is tried first, then the Innertube player endpoint.
func (c *Client) FetchTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error) {
	if !videoIDRE.MatchString(videoID) {
		return nil, fmt.Errorf("youtube: invalid video id %q", videoID)
	}

	track, scrapeErr := c.trackFromWatchPage(ctx, videoID)
	if scrapeErr != nil {
		slog.Warn("youtube: watch page scrape failed, trying player", "videoId", videoID, "err", scrapeErr)
		var playerErr error
		track, playerErr = c.trackFromPlayer(ctx, videoID)
		if playerErr != nil {
			if errors.Is(scrapeErr, domain.ErrNoCaptions) && errors.Is(playerErr, domain.ErrNoCaptions) {
				return nil, fmt.Errorf("%w for %s", domain.ErrNoCaptions, videoID)
			}
			return nil, fmt.Errorf("youtube: fetch captions for %s: %w", videoID, errors.Join(scrapeErr, playerErr))
		}
	}

	entries, err := c.fetchTimedText(ctx, track.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("youtube: fetch captions for %s: %w", videoID, err)
	}
	return entries, nil
}

func (c *Client) trackFromWatchPage(ctx context.Context, videoID string) (captionTrack, error) {
	watchURL := c.baseURL + "/watch?v=" + url.QueryEscape(videoID)

	resp, err := retryHTTP(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return captionTrack{}, fmt.Errorf("watch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return captionTrack{}, fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(playerResponseMarker))
	if idx < 0 {
		return captionTrack{}, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	raw := extractJSON(body[idx+len(playerResponseMarker):])
	if raw == nil {
		return captionTrack{}, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return captionTrack{}, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return c.selectTrack(pr)
}

func (c *Client) trackFromPlayer(ctx context.Context, videoID string) (captionTrack, error) {
	reqBody, err := json.Marshal(playerRequest{
		VideoID: videoID,
		Context: playerContext{Client: playerClient{
			ClientName:        "ANDROID",
			ClientVersion:     androidVersion,
			AndroidSdkVersion: 30,
			Hl:                "en",
			Gl:                "US",
		}},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return captionTrack{}, err
	}

	resp, err := retryHTTP(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+playerPath+"?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", androidUserAgent)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", androidVersion)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return captionTrack{}, fmt.Errorf("player: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var pr playerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4*1024*1024)).Decode(&pr); err != nil {
		return captionTrack{}, fmt.Errorf("decode player: %w", err)
	}
	return c.selectTrack(pr)
}

func (c *Client) selectTrack(pr playerResponse) (captionTrack, error) {
	if pr.Captions == nil || len(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks) == 0 {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return captionTrack{}, fmt.Errorf("%w: %s", domain.ErrNoCaptions, pr.PlayabilityStatus.Reason)
		}
		return captionTrack{}, domain.ErrNoCaptions
	}
	track, ok := pickBestTrack(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, c.langs)
	if !ok {
		return captionTrack{}, errors.New("all caption tracks require a PoToken")
	}
	return track, nil
}

// needsPoToken reports whether a caption track URL can only be fetched by a browser.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first usable track.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

func (c *Client) fetchTimedText(ctx context.Context, trackURL string) ([]domain.TranscriptEntry, error) {
	if strings.HasPrefix(trackURL, "/") {
		trackURL = c.baseURL + trackURL
	}

	resp, err := retryHTTP(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browserUserAgent)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("timedtext: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read timedtext: %w", err)
	}
	return parseTimedText(body)
}

// parseTimedText decodes timedtext XML. Caption text arrives HTML-escaped a
// second time inside the XML, so it is unescaped after XML decoding.
func parseTimedText(body []byte) ([]domain.TranscriptEntry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []domain.TranscriptEntry{}, nil
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}

	entries := make([]domain.TranscriptEntry, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		text := strings.Join(strings.Fields(html.UnescapeString(line.Text)), " ")
		if text == "" {
			continue
		}
		entries = append(entries, domain.TranscriptEntry{
			Text:     text,
			Duration: line.Dur,
			Offset:   line.Start,
		})
	}
	return entries, nil
}

// extractJSON returns the balanced JSON object at the start of b, or nil.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
