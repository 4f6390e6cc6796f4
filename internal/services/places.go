package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huangang/reviewiq/internal/config"
)

const (
	defaultPlacesAuthor = "Google User"
	defaultPlacesText   = "No review text provided."
)

// ExternalReview is one review pulled from an outside listing.
type ExternalReview struct {
	AuthorName  string
	Rating      int
	Text        string
	PublishedAt time.Time
}

// ExternalKey is the stable identity used to skip already imported reviews.
func (r ExternalReview) ExternalKey() string {
	return fmt.Sprintf("%s~%d", r.AuthorName, r.PublishedAt.UnixMilli())
}

// ReviewSource fetches the latest external reviews of a place.
type ReviewSource interface {
	FetchReviews(ctx context.Context, placeID string) ([]ExternalReview, error)
}

// placeDetails is the subset of a Places (New) details response we read.
type placeDetails struct {
	Reviews []struct {
		Rating int `json:"rating"`
		Text   *struct {
			Text string `json:"text"`
		} `json:"text"`
		AuthorAttribution *struct {
			DisplayName string `json:"displayName"`
		} `json:"authorAttribution"`
		PublishTime string `json:"publishTime"`
	} `json:"reviews"`
}

type PlacesClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPlacesClient(cfg config.SyncConfig) *PlacesClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PlacesClient{
		baseURL:    strings.TrimRight(cfg.PlacesBaseURL, "/"),
		apiKey:     cfg.PlacesAPIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *PlacesClient) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

func (c *PlacesClient) FetchReviews(ctx context.Context, placeID string) ([]ExternalReview, error) {
	if !c.Configured() {
		return nil, ErrSyncUnavailable
	}

	endpoint := fmt.Sprintf("%s/places/%s", c.baseURL, url.PathEscape(placeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", "id,reviews")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("Places API returned %d: %s", resp.StatusCode, string(body))
	}

	var details placeDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode places response: %w", err)
	}

	out := make([]ExternalReview, 0, len(details.Reviews))
	for _, r := range details.Reviews {
		ext := ExternalReview{
			AuthorName: defaultPlacesAuthor,
			Rating:     r.Rating,
			Text:       defaultPlacesText,
		}
		if r.AuthorAttribution != nil && r.AuthorAttribution.DisplayName != "" {
			ext.AuthorName = r.AuthorAttribution.DisplayName
		}
		if r.Text != nil && strings.TrimSpace(r.Text.Text) != "" {
			ext.Text = r.Text.Text
		}
		// PublishedAt stays zero when missing; the sync skips such reviews
		// since their key would change on every run.
		if t, err := time.Parse(time.RFC3339Nano, r.PublishTime); err == nil {
			ext.PublishedAt = t.UTC()
		}
		out = append(out, ext)
	}
	return out, nil
}
